package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

const redisTxRetries = 8

// RedisCampaignLedger stores each campaign as a JSON document and keeps a sorted set of
// due times. Mutations use WATCH on the campaign key only, so concurrent writers of
// different campaigns never conflict.
type RedisCampaignLedger struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCampaignLedger(rdb *redis.Client, prefix string) *RedisCampaignLedger {
	if prefix == "" {
		prefix = "retry:"
	}
	return &RedisCampaignLedger{rdb: rdb, prefix: prefix}
}

func (l *RedisCampaignLedger) Create(ctx context.Context, campaign *entity.Campaign) error {
	key := l.campaignKey(campaign.PaymentID)
	return l.watch(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrCampaignAlreadyExists
		}
		return l.write(ctx, tx, campaign)
	})
}

func (l *RedisCampaignLedger) Get(ctx context.Context, paymentID string) (*entity.Campaign, error) {
	campaign, err := l.load(ctx, l.rdb, paymentID)
	if errors.Is(err, ErrCampaignNotFound) {
		return nil, nil
	}
	return campaign, err
}

func (l *RedisCampaignLedger) RecordFailure(ctx context.Context, paymentID string, rec FailureRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	return l.mutate(ctx, paymentID, func(c *entity.Campaign) (bool, error) {
		return true, applyFailure(c, rec)
	})
}

func (l *RedisCampaignLedger) Reschedule(ctx context.Context, paymentID string, rec RescheduleRecord) error {
	return l.mutate(ctx, paymentID, func(c *entity.Campaign) (bool, error) {
		return true, applyReschedule(c, rec)
	})
}

func (l *RedisCampaignLedger) RecordTerminal(ctx context.Context, paymentID string, rec TerminalRecord) (bool, error) {
	if err := rec.validate(); err != nil {
		return false, err
	}
	changed := false
	err := l.mutate(ctx, paymentID, func(c *entity.Campaign) (bool, error) {
		changed = applyTerminal(c, rec)
		return changed, nil
	})
	return changed, err
}

func (l *RedisCampaignLedger) DueBefore(ctx context.Context, before time.Time, afterID string, limit int) ([]string, error) {
	ids, err := l.rdb.ZRangeByScore(ctx, l.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	return pageIDs(ids, afterID, limit), nil
}

func (l *RedisCampaignLedger) ListActiveByAccount(ctx context.Context, accountID string) ([]string, error) {
	ids, err := l.rdb.SMembers(ctx, l.accountKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	return limitIDs(ids, 0), nil
}

func (l *RedisCampaignLedger) mutate(ctx context.Context, paymentID string, fn func(c *entity.Campaign) (bool, error)) error {
	key := l.campaignKey(paymentID)
	return l.watch(ctx, key, func(tx *redis.Tx) error {
		campaign, err := l.load(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		write, err := fn(campaign)
		if err != nil || !write {
			return err
		}
		return l.write(ctx, tx, campaign)
	})
}

func (l *RedisCampaignLedger) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < redisTxRetries; i++ {
		err := l.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

// write persists the document and keeps the due and account indexes consistent with it
// in one MULTI block.
func (l *RedisCampaignLedger) write(ctx context.Context, tx *redis.Tx, campaign *entity.Campaign) error {
	payload, err := json.Marshal(campaign)
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.campaignKey(campaign.PaymentID), payload, 0)
		if campaign.State == entity.CampaignActive && campaign.NextDueAt != nil {
			pipe.ZAdd(ctx, l.dueKey(), redis.Z{Score: float64(campaign.NextDueAt.UnixMilli()), Member: campaign.PaymentID})
		} else {
			pipe.ZRem(ctx, l.dueKey(), campaign.PaymentID)
		}
		if campaign.State == entity.CampaignActive {
			pipe.SAdd(ctx, l.accountKey(campaign.AccountID), campaign.PaymentID)
		} else {
			pipe.SRem(ctx, l.accountKey(campaign.AccountID), campaign.PaymentID)
		}
		return nil
	})
	return err
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (l *RedisCampaignLedger) load(ctx context.Context, cmd redisGetter, paymentID string) (*entity.Campaign, error) {
	raw, err := cmd.Get(ctx, l.campaignKey(paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	var campaign entity.Campaign
	if err := json.Unmarshal(raw, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (l *RedisCampaignLedger) campaignKey(paymentID string) string {
	return l.prefix + "campaign:" + paymentID
}

func (l *RedisCampaignLedger) dueKey() string {
	return l.prefix + "due"
}

func (l *RedisCampaignLedger) accountKey(accountID string) string {
	return l.prefix + "account:" + accountID
}

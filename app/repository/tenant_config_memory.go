package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

type MemoryTenantConfigStore struct {
	mu        sync.Mutex
	configs   map[string]*entity.TenantConfig
	revisions []*entity.ConfigRevision
}

func NewMemoryTenantConfigStore() *MemoryTenantConfigStore {
	return &MemoryTenantConfigStore{configs: map[string]*entity.TenantConfig{}}
}

func (s *MemoryTenantConfigStore) List(_ context.Context) ([]*entity.TenantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*entity.TenantConfig, 0, len(s.configs))
	for _, item := range s.configs {
		items = append(items, copyTenantConfig(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TenantID < items[j].TenantID })
	return items, nil
}

func (s *MemoryTenantConfigStore) Save(_ context.Context, cfg *entity.TenantConfig, revision *entity.ConfigRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[cfg.TenantID] = copyTenantConfig(cfg)
	s.appendRevision(revision)
	return nil
}

func (s *MemoryTenantConfigStore) Delete(_ context.Context, tenantID string, revision *entity.ConfigRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.configs, tenantID)
	s.appendRevision(revision)
	return nil
}

func (s *MemoryTenantConfigStore) History(_ context.Context, tenantID string, limit int) ([]*entity.ConfigRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*entity.ConfigRevision, 0)
	for i := len(s.revisions) - 1; i >= 0; i-- {
		if s.revisions[i].TenantID != tenantID {
			continue
		}
		copyItem := *s.revisions[i]
		items = append(items, &copyItem)
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryTenantConfigStore) LatestRevision(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.revisions) == 0 {
		return 0, nil
	}
	return s.revisions[len(s.revisions)-1].Revision, nil
}

func (s *MemoryTenantConfigStore) appendRevision(revision *entity.ConfigRevision) {
	copyItem := *revision
	copyItem.ID = uint64(len(s.revisions) + 1)
	revision.ID = copyItem.ID
	s.revisions = append(s.revisions, &copyItem)
}

func copyTenantConfig(cfg *entity.TenantConfig) *entity.TenantConfig {
	out := *cfg
	out.Values = make(map[string]string, len(cfg.Values))
	for k, v := range cfg.Values {
		out.Values[k] = v
	}
	return &out
}

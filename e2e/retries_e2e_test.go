//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

const (
	defaultRetriesHTTPBase = "http://localhost:48081"
	defaultRetriesGRPCAddr = "localhost:49091"

	retryAdminService = "/retry.RetryAdmin/"
)

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	return c.doJSONWithAPIKey(t, method, path, body, retriesCallerAPIKey())
}

func (c *httpClient) doJSONWithAPIKey(t *testing.T, method, path string, body any, apiKey string) (*http.Response, []byte) {
	t.Helper()

	reqBody := bytes.NewReader(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	return resp, bodyBytes
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
		req.Header.Set("X-Request-ID", fmt.Sprintf("wait-http-%d", time.Now().UnixNano()))
		req.Header.Set("X-API-Key", retriesCallerAPIKey())
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func dialRetriesGRPC(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	return conn
}

func grpcContextWithHeaders(apiKey, requestID string) context.Context {
	ctx := context.Background()
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}
	if apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
	}
	return ctx
}

func callerContext() context.Context {
	return grpcContextWithHeaders(retriesCallerAPIKey(), fmt.Sprintf("e2e-grpc-%d", time.Now().UnixNano()))
}

func invokeAdmin(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, retryAdminService+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeJSON(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("unmarshal failed: %v body=%s", err, string(body))
	}
}

func TestRetriesE2E(t *testing.T) {
	httpBase := os.Getenv("RETRIES_HTTP_URL")
	if httpBase == "" {
		httpBase = defaultRetriesHTTPBase
	}
	grpcAddr := os.Getenv("RETRIES_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = defaultRetriesGRPCAddr
	}

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase)
	conn := dialRetriesGRPC(t, grpcAddr)
	defer conn.Close()

	suffix := time.Now().UnixNano()
	tenantID := fmt.Sprintf("e2e-tenant-%d", suffix)
	paymentID := fmt.Sprintf("e2e-pay-%d", suffix)

	t.Run("HTTPMissingRequestID", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, httpBase+"/health", nil)
		if err != nil {
			t.Fatalf("new request failed: %v", err)
		}
		req.Header.Set("X-API-Key", retriesCallerAPIKey())
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing x-request-id, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPUnauthorizedMissingAPIKey", func(t *testing.T) {
		resp, _ := client.doJSONWithAPIKey(t, http.MethodGet, "/health", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for missing x-api-key, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPForbiddenInsufficientAccess", func(t *testing.T) {
		resp, _ := client.doJSONWithAPIKey(t, http.MethodGet, "/health", nil, retriesNoAccessAPIKey())
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for insufficient access, got %d", resp.StatusCode)
		}
	})

	t.Run("GRPCMissingRequestID", func(t *testing.T) {
		ctx := grpcContextWithHeaders(retriesCallerAPIKey(), "")
		_, err := invokeAdmin(ctx, conn, "GetCampaign", map[string]any{"payment_id": "missing"})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
		}
	})

	t.Run("GRPCUnauthorizedMissingAPIKey", func(t *testing.T) {
		ctx := grpcContextWithHeaders("", fmt.Sprintf("e2e-grpc-no-auth-%d", time.Now().UnixNano()))
		_, err := invokeAdmin(ctx, conn, "GetCampaign", map[string]any{"payment_id": "missing"})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("GRPCForbiddenInsufficientAccess", func(t *testing.T) {
		ctx := grpcContextWithHeaders(retriesNoAccessAPIKey(), fmt.Sprintf("e2e-grpc-forbidden-%d", time.Now().UnixNano()))
		_, err := invokeAdmin(ctx, conn, "GetCampaign", map[string]any{"payment_id": "missing"})
		if status.Code(err) != codes.PermissionDenied {
			t.Fatalf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("HTTPInvalidConfig", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPut, "/tenants/"+tenantID+"/config", map[string]string{"payment.retry.days": "3,1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPUploadConfig", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPut, "/tenants/"+tenantID+"/config", map[string]string{"payment.retry.days": "1,1,1"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("GRPCResolveSchedule", func(t *testing.T) {
		out, err := invokeAdmin(callerContext(), conn, "ResolveSchedule", map[string]any{"tenant_id": tenantID})
		if err != nil {
			t.Fatalf("resolve schedule failed: %v", err)
		}
		days := out.GetFields()["days"].GetListValue().GetValues()
		if len(days) != 3 || days[0].GetNumberValue() != 1 {
			t.Fatalf("unexpected schedule: %v", out)
		}
	})

	t.Run("HTTPReportFailureOpensCampaign", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/campaigns/failures", map[string]any{
			"payment_id":   paymentID,
			"tenant_id":    tenantID,
			"account_id":   "e2e-account",
			"invoice_id":   "e2e-invoice",
			"amount":       "12.50",
			"currency":     "usd",
			"provider":     "scripted",
			"failure_kind": "declined",
			"reason":       "card_declined",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.CampaignEnvelopeResponse
		decodeJSON(t, body, &payload)
		if payload.Campaign == nil || payload.Campaign.State != "active" || payload.Campaign.AttemptIndex != 1 {
			t.Fatalf("unexpected campaign: %s", string(body))
		}
	})

	t.Run("HTTPReportFailureConflict", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/campaigns/failures", map[string]any{
			"payment_id": paymentID,
			"tenant_id":  tenantID,
			"account_id": "e2e-account",
			"invoice_id": "e2e-invoice",
			"amount":     "12.50",
			"currency":   "usd",
			"provider":   "scripted",
		})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPAdvanceClockRetriesCampaign", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/clock/advance", map[string]any{"days": 1})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}

		resp, body = client.doJSON(t, http.MethodGet, "/campaigns/"+paymentID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.CampaignEnvelopeResponse
		decodeJSON(t, body, &payload)
		if payload.Campaign == nil || payload.Campaign.State != "succeeded" {
			t.Fatalf("expected succeeded campaign, got %s", string(body))
		}
	})

	t.Run("HTTPEventStream", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/events?since=0&limit=1000", nil)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusGone {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		if resp.StatusCode == http.StatusGone {
			return
		}
		var payload types.ListEventsResponse
		decodeJSON(t, body, &payload)
		seen := map[string]bool{}
		for _, event := range payload.Events {
			if event.EntityId == paymentID {
				seen[event.Type] = true
			}
		}
		if !seen["payment-failed"] || !seen["payment-succeeded"] {
			t.Fatalf("missing payment events for %s: %v", paymentID, seen)
		}
	})

	t.Run("GRPCCancelClosedCampaign", func(t *testing.T) {
		_, err := invokeAdmin(callerContext(), conn, "CancelCampaign", map[string]any{"payment_id": paymentID, "reason": "e2e"})
		if status.Code(err) != codes.FailedPrecondition {
			t.Fatalf("expected FailedPrecondition, got %v", err)
		}
	})

	t.Run("GRPCGetCampaignNotFound", func(t *testing.T) {
		_, err := invokeAdmin(callerContext(), conn, "GetCampaign", map[string]any{"payment_id": "e2e-missing"})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("GRPCDeleteConfig", func(t *testing.T) {
		if _, err := invokeAdmin(callerContext(), conn, "DeleteConfig", map[string]any{"tenant_id": tenantID}); err != nil {
			t.Fatalf("delete config failed: %v", err)
		}
		_, err := invokeAdmin(callerContext(), conn, "DeleteConfig", map[string]any{"tenant_id": tenantID})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound on second delete, got %v", err)
		}
	})
}

package grpc

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var passThrough = func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

func withRequestID(id string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, id))
}

func TestRequestIDInterceptor(t *testing.T) {
	cases := []struct {
		name     string
		ctx      context.Context
		wantCode codes.Code
		wantID   string
	}{
		{name: "no metadata", ctx: context.Background(), wantCode: codes.InvalidArgument},
		{name: "blank header", ctx: withRequestID("   "), wantCode: codes.InvalidArgument},
		{name: "trimmed header", ctx: withRequestID(" op-42 "), wantCode: codes.OK, wantID: "op-42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			_, err := RequestIDInterceptor()(tc.ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
				seen = RequestIDFromContext(ctx)
				return "ok", nil
			})
			if status.Code(err) != tc.wantCode {
				t.Fatalf("expected %v, got %v", tc.wantCode, err)
			}
			if seen != tc.wantID {
				t.Fatalf("expected request id %q, got %q", tc.wantID, seen)
			}
		})
	}
}

func TestRecoveryInterceptorLogsPanic(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	_, err := RecoveryInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/retry.RetryAdmin/UploadConfig"}, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "grpc_panic" || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected grpc_panic error entry, got %+v", entry)
	}
	if entry.Data["method"] != "/retry.RetryAdmin/UploadConfig" {
		t.Fatalf("unexpected method field: %v", entry.Data["method"])
	}
}

func TestLoggingInterceptorRecordsCodeAndRequestID(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	ctx := context.WithValue(context.Background(), requestIDKey{}, "op-7")
	_, err := LoggingInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/retry.RetryAdmin/GetCampaign"}, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "campaign not found")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound to pass through, got %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "grpc_request" {
		t.Fatalf("expected grpc_request entry, got %+v", entry)
	}
	if entry.Data["code"] != codes.NotFound.String() || entry.Data["request_id"] != "op-7" || entry.Data["module"] != "retry-admin-grpc" {
		t.Fatalf("unexpected fields: %v", entry.Data)
	}

	resp, err := LoggingInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/retry.RetryAdmin/ResolveSchedule"}, passThrough)
	if err != nil || resp != "ok" {
		t.Fatalf("expected pass-through, got resp=%v err=%v", resp, err)
	}
}

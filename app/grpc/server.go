package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
	"github.com/vibast-solutions/ms-go-payment-retries/app/service"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

const serviceName = "retry.RetryAdmin"

// RetryAdminServer is the operator surface. Requests and responses are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
type RetryAdminServer interface {
	UploadConfig(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteConfig(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResolveSchedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCampaign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelCampaign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type configResolver interface {
	Upload(ctx context.Context, tenantID string, values map[string]string, operator string) (*entity.TenantConfig, error)
	Delete(ctx context.Context, tenantID string, operator string) (bool, error)
	ResolveSchedule(ctx context.Context, tenantID string) policy.Schedule
}

type campaignOrchestrator interface {
	Get(ctx context.Context, paymentID string) (*entity.Campaign, error)
	Cancel(ctx context.Context, paymentID, reason string) (*entity.Campaign, error)
}

type Server struct {
	resolver     configResolver
	orchestrator campaignOrchestrator
}

func NewServer(resolver configResolver, orchestrator campaignOrchestrator) *Server {
	return &Server{resolver: resolver, orchestrator: orchestrator}
}

func RegisterRetryAdminServer(registrar grpc.ServiceRegistrar, srv RetryAdminServer) {
	registrar.RegisterService(&RetryAdminServiceDesc, srv)
}

func (s *Server) UploadConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	l := loggerWithContext(ctx)
	var req types.UploadConfigRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	operator := req.GetOperator()
	if operator == "" {
		operator = RequestIDFromContext(ctx)
	}

	item, err := s.resolver.Upload(ctx, req.GetTenantId(), req.GetValues(), operator)
	if err != nil && !errors.Is(err, service.ErrDeliveryFailure) {
		switch {
		case errors.Is(err, service.ErrInvalidConfig), errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			l.WithError(err).Error("Upload tenant config failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return toStruct(&types.TenantConfigResponse{Config: mapper.TenantConfigToView(item)})
}

func (s *Server) DeleteConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.TenantRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	deleted, err := s.resolver.Delete(ctx, req.GetTenantId(), req.GetOperator())
	if err != nil && !errors.Is(err, service.ErrDeliveryFailure) {
		loggerWithContext(ctx).WithError(err).Error("Delete tenant config failed")
		return nil, status.Error(codes.Internal, "internal server error")
	}
	if !deleted {
		return nil, status.Error(codes.NotFound, "tenant config not found")
	}

	return toStruct(&types.MessageResponse{Message: "Tenant config deleted"})
}

func (s *Server) ResolveSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.TenantRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	days := s.resolver.ResolveSchedule(ctx, req.GetTenantId())
	return toStruct(&types.ScheduleResponse{TenantId: req.GetTenantId(), Days: append([]int{}, days...)})
}

func (s *Server) GetCampaign(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.CampaignRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.orchestrator.Get(ctx, req.GetPaymentId())
	if err != nil {
		if errors.Is(err, service.ErrCampaignNotFound) {
			return nil, status.Error(codes.NotFound, "campaign not found")
		}
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return toStruct(&types.CampaignEnvelopeResponse{Campaign: mapper.CampaignToView(item)})
}

func (s *Server) CancelCampaign(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.CampaignRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.orchestrator.Cancel(ctx, req.GetPaymentId(), req.GetReason())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCampaignNotFound):
			return nil, status.Error(codes.NotFound, "campaign not found")
		case errors.Is(err, service.ErrCampaignClosed):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Cancel campaign failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return toStruct(&types.CampaignEnvelopeResponse{Campaign: mapper.CampaignToView(item)})
}

func fromStruct(in *structpb.Struct, out interface{}) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

type structMethod func(srv RetryAdminServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RetryAdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RetryAdminServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var RetryAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RetryAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UploadConfig", Handler: unaryHandler("UploadConfig", RetryAdminServer.UploadConfig)},
		{MethodName: "DeleteConfig", Handler: unaryHandler("DeleteConfig", RetryAdminServer.DeleteConfig)},
		{MethodName: "ResolveSchedule", Handler: unaryHandler("ResolveSchedule", RetryAdminServer.ResolveSchedule)},
		{MethodName: "GetCampaign", Handler: unaryHandler("GetCampaign", RetryAdminServer.GetCampaign)},
		{MethodName: "CancelCampaign", Handler: unaryHandler("CancelCampaign", RetryAdminServer.CancelCampaign)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "retry/admin.proto",
}

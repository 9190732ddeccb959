package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-damage-issues/internal/auth"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "damage.v1.DamageWorkflowService"

// DamageWorkflowServiceServer is the server API for DamageWorkflowService.
// Requests and responses are google.protobuf.Struct.
type DamageWorkflowServiceServer interface {
	GetDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAvailableAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// DamageWorkflowServiceDesc describes DamageWorkflowService for grpc.Server.
var DamageWorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DamageWorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetDocument", Handler: unaryHandler("GetDocument", DamageWorkflowServiceServer.GetDocument)},
		{MethodName: "GetAvailableAction", Handler: unaryHandler("GetAvailableAction", DamageWorkflowServiceServer.GetAvailableAction)},
		{MethodName: "ApplyAction", Handler: unaryHandler("ApplyAction", DamageWorkflowServiceServer.ApplyAction)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "damage/v1/workflow.proto",
}

// RegisterDamageWorkflowServiceServer registers srv on s.
func RegisterDamageWorkflowServiceServer(s grpc.ServiceRegistrar, srv DamageWorkflowServiceServer) {
	s.RegisterService(&DamageWorkflowServiceDesc, srv)
}

type unaryMethod func(DamageWorkflowServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DamageWorkflowServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DamageWorkflowServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements DamageWorkflowServiceServer
type GRPCHandler struct {
	documents DocumentAPI
	workflow  WorkflowAPI
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(documents DocumentAPI, workflow WorkflowAPI, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		documents: documents,
		workflow:  workflow,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// GetDocument retrieves a damage document by {"id"}
func (h *GRPCHandler) GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	h.logger.Debug().Str("id", id).Msg("gRPC GetDocument called")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	doc, err := h.documents.GetDocument(ctx, id)
	if err != nil {
		return nil, h.fail(err, "Failed to get document")
	}
	return toStruct(toDocumentResponse(doc))
}

// GetAvailableAction returns the caller's actions on {"id"}
func (h *GRPCHandler) GetAvailableAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id := stringField(req, "id")
	h.logger.Debug().Str("id", id).Str("actor_id", actor.ID).Msg("gRPC GetAvailableAction called")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	view, err := h.workflow.GetAvailableAction(ctx, actor, id)
	if err != nil {
		return nil, h.fail(err, "Failed to compute available action")
	}
	return toStruct(toActionResponse(view))
}

// ApplyAction performs {"action"} with an optional {"comment"} on {"id"}
func (h *GRPCHandler) ApplyAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id := stringField(req, "id")
	action := stringField(req, "action")
	h.logger.Info().
		Str("id", id).
		Str("action", action).
		Str("actor_id", actor.ID).
		Msg("gRPC ApplyAction called")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	doc, err := h.workflow.ApplyAction(ctx, actor, id, action, stringField(req, "comment"))
	if err != nil {
		return nil, h.fail(err, "Failed to apply action")
	}
	return toStruct(toDocumentResponse(doc))
}

func (h *GRPCHandler) fail(err error, msg string) error {
	gerr := mapErrorToGRPC(err)
	if status.Code(gerr) == codes.Internal {
		h.logger.Error().Err(err).Msg(msg)
	} else {
		h.logger.Debug().Err(err).Msg(msg)
	}
	return gerr
}

func actorFromContext(ctx context.Context) (workflow.Actor, error) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok || actor.ID == "" {
		return workflow.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// toStruct renders v through its JSON form so the gRPC and HTTP payloads
// share one shape.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		msg = appErr.Message
		if appErr.Field != "" {
			msg = appErr.Field + ": " + msg
		}
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodePermissionDenied:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeVersionConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

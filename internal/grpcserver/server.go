package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorInvalidEntityID = "invalid_entity_id"
	errorInvalidSkill    = "invalid_skill"
	errorInvalidAmount   = "invalid_amount"
	errorMissingSession  = "missing_session"
	errorServiceStopped  = "service_stopped"

	fieldEntityID = "entity_id"
	fieldSkill    = "skill"
	fieldAmount   = "amount"
)

// SkillServiceServer is implemented by handlers registered under ServiceName.
type SkillServiceServer interface {
	StartSession(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	EndSession(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error)
	Increment(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error)
	Track(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error)
	GetSkills(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Flush(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// SkillServer exposes the skills service over gRPC.
type SkillServer struct {
	skillService *skills.Service
}

// NewSkillServer constructs a gRPC server for the skills service.
func NewSkillServer(skillService *skills.Service) *SkillServer {
	return &SkillServer{skillService: skillService}
}

func (server *SkillServer) StartSession(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	entityID, err := skills.NewEntityID(stringField(request, fieldEntityID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	profile, err := server.skillService.LoadSession(ctx, entityID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return server.skillsResponse(entityID, map[string]any{"created": profile.Created})
}

func (server *SkillServer) EndSession(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error) {
	entityID, err := skills.NewEntityID(stringField(request, fieldEntityID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	server.skillService.EndSession(ctx, entityID)
	return &emptypb.Empty{}, nil
}

func (server *SkillServer) Increment(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error) {
	entityID, err := skills.NewEntityID(stringField(request, fieldEntityID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	category, err := skills.ParseCategory(stringField(request, fieldSkill))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := amountField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := server.skillService.Increment(ctx, entityID, category, amount); err != nil {
		return nil, mapToGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

func (server *SkillServer) Track(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error) {
	entityID, err := skills.NewEntityID(stringField(request, fieldEntityID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	category, err := skills.ParseCategory(stringField(request, fieldSkill))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := server.skillService.Track(ctx, entityID, category); err != nil {
		return nil, mapToGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

func (server *SkillServer) GetSkills(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	entityID, err := skills.NewEntityID(stringField(request, fieldEntityID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return server.skillsResponse(entityID, nil)
}

func (server *SkillServer) Flush(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	result, err := server.skillService.Flush(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	response, err := structpb.NewStruct(map[string]any{
		"entities": result.Entities,
		"deltas":   result.Deltas,
		"amount":   result.Amount,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func (server *SkillServer) skillsResponse(entityID skills.EntityID, extra map[string]any) (*structpb.Struct, error) {
	statuses, err := server.skillService.Snapshot(entityID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries := make([]any, 0, len(statuses))
	for _, skillStatus := range statuses {
		entries = append(entries, map[string]any{
			"skill":    skillStatus.Category.String(),
			"amount":   skillStatus.Amount,
			"level":    skillStatus.Level,
			"progress": skillStatus.Progress,
			"title":    skillStatus.Title,
		})
	}
	fields := map[string]any{
		fieldEntityID: entityID.String(),
		"skills":      entries,
	}
	if tracked, ok := server.skillService.Tracked(entityID); ok {
		fields["tracked"] = tracked.String()
	}
	for key, value := range extra {
		fields[key] = value
	}
	response, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func stringField(request *structpb.Struct, name string) string {
	return request.GetFields()[name].GetStringValue()
}

func amountField(request *structpb.Struct) (int64, error) {
	value, ok := request.GetFields()[fieldAmount]
	if !ok {
		return 0, fmt.Errorf("%w: missing", skills.ErrInvalidAmount)
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: not a number", skills.ErrInvalidAmount)
	}
	if number.NumberValue != math.Trunc(number.NumberValue) || math.Abs(number.NumberValue) > math.MaxInt64/2 {
		return 0, fmt.Errorf("%w: %v", skills.ErrInvalidAmount, number.NumberValue)
	}
	return int64(number.NumberValue), nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, skills.ErrInvalidEntityID) {
		return status.Error(codes.InvalidArgument, errorInvalidEntityID)
	}
	if errors.Is(source, skills.ErrInvalidCategory) {
		return status.Error(codes.InvalidArgument, errorInvalidSkill)
	}
	if errors.Is(source, skills.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, skills.ErrMissingSession) {
		return status.Error(codes.FailedPrecondition, errorMissingSession)
	}
	if errors.Is(source, skills.ErrServiceStopped) {
		return status.Error(codes.Unavailable, errorServiceStopped)
	}
	return status.Error(codes.Internal, source.Error())
}

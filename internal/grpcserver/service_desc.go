package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "skilltrack.v1.SkillService"

// ServiceDesc describes SkillService. Every request is a google.protobuf.Struct.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SkillServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("StartSession", SkillServiceServer.StartSession),
		unaryMethod("EndSession", SkillServiceServer.EndSession),
		unaryMethod("Increment", SkillServiceServer.Increment),
		unaryMethod("Track", SkillServiceServer.Track),
		unaryMethod("GetSkills", SkillServiceServer.GetSkills),
		unaryMethod("Flush", SkillServiceServer.Flush),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "skilltrack/v1/skills.proto",
}

// Register attaches server to registrar under ServiceName.
func Register(registrar grpc.ServiceRegistrar, server SkillServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func unaryMethod[Response proto.Message](name string, call func(SkillServiceServer, context.Context, *structpb.Struct) (Response, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := dec(request); err != nil {
				return nil, err
			}
			server := srv.(SkillServiceServer)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

// Client calls SkillService over a client connection.
type Client struct {
	connection grpc.ClientConnInterface
}

// NewClient wraps connection.
func NewClient(connection grpc.ClientConnInterface) *Client {
	return &Client{connection: connection}
}

func (client *Client) StartSession(ctx context.Context, entityID string) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	return response, client.invoke(ctx, "StartSession", map[string]any{fieldEntityID: entityID}, response)
}

func (client *Client) EndSession(ctx context.Context, entityID string) error {
	return client.invoke(ctx, "EndSession", map[string]any{fieldEntityID: entityID}, new(emptypb.Empty))
}

func (client *Client) Increment(ctx context.Context, entityID string, skill string, amount int64) error {
	request := map[string]any{fieldEntityID: entityID, fieldSkill: skill, fieldAmount: amount}
	return client.invoke(ctx, "Increment", request, new(emptypb.Empty))
}

func (client *Client) Track(ctx context.Context, entityID string, skill string) error {
	return client.invoke(ctx, "Track", map[string]any{fieldEntityID: entityID, fieldSkill: skill}, new(emptypb.Empty))
}

func (client *Client) GetSkills(ctx context.Context, entityID string) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	return response, client.invoke(ctx, "GetSkills", map[string]any{fieldEntityID: entityID}, response)
}

func (client *Client) Flush(ctx context.Context) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	return response, client.invoke(ctx, "Flush", map[string]any{}, response)
}

func (client *Client) invoke(ctx context.Context, method string, fields map[string]any, response proto.Message) error {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return client.connection.Invoke(ctx, "/"+ServiceName+"/"+method, request, response)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"gearshare/internal/apperr"
	"gearshare/internal/models"
)

const (
	bookingServiceName = "gearshare.booking.v1.BookingService"
	getBookingMethod   = "/" + bookingServiceName + "/GetBooking"
	updateStatusMethod = "/" + bookingServiceName + "/UpdateStatus"
)

// BookingServiceServer is the gRPC face of the booking lifecycle. Messages
// are google.protobuf.Struct so that clients need no generated stubs.
type BookingServiceServer interface {
	GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: bookingServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBooking", Handler: unaryHandler(getBookingMethod, BookingServiceServer.GetBooking)},
		{MethodName: "UpdateStatus", Handler: unaryHandler(updateStatusMethod, BookingServiceServer.UpdateStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gearshare/booking/v1/booking.proto",
}

// RegisterBookingServiceServer registers srv on s.
func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&bookingServiceDesc, srv)
}

type structMethod func(BookingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BookingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BookingServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BookingGRPCService adapts Bookings to BookingServiceServer.
type BookingGRPCService struct {
	bookings Bookings
}

func NewBookingGRPCService(bookings Bookings) *BookingGRPCService {
	return &BookingGRPCService{bookings: bookings}
}

func (s *BookingGRPCService) GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actorID, ok := actorFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, errMissingActor.Error())
	}
	id, err := bookingID(req)
	if err != nil {
		return nil, err
	}

	b, err := s.bookings.GetBooking(ctx, actorID, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return bookingStruct(b)
}

func (s *BookingGRPCService) UpdateStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actorID, ok := actorFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, errMissingActor.Error())
	}
	id, err := bookingID(req)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	target := strings.TrimSpace(fields["status"].GetStringValue())
	if target == "" {
		return nil, status.Error(codes.InvalidArgument, "status is required")
	}

	b, err := s.bookings.UpdateStatus(ctx, actorID, id, target, strings.TrimSpace(fields["preauth_id"].GetStringValue()))
	if err != nil {
		return nil, grpcError(err)
	}
	return bookingStruct(b)
}

func bookingID(req *structpb.Struct) (int64, error) {
	v, ok := req.GetFields()["booking_id"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "booking_id is required")
	}
	n := v.GetNumberValue()
	if n <= 0 || n != float64(int64(n)) {
		return 0, status.Error(codes.InvalidArgument, "booking_id must be a positive integer")
	}
	return int64(n), nil
}

// bookingStruct renders b with the same field names as the HTTP API.
func bookingStruct(b *models.Booking) (*structpb.Struct, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode booking")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode booking")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode booking")
	}
	return out, nil
}

func grpcError(err error) error {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return status.Error(codes.Internal, "internal error")
	}

	code := codes.Internal
	switch appErr.Kind {
	case apperr.KindValidation:
		code = codes.InvalidArgument
	case apperr.KindConflict:
		code = codes.Aborted
	case apperr.KindAuthorization:
		code = codes.PermissionDenied
	case apperr.KindNotFound:
		code = codes.NotFound
	case apperr.KindPayment:
		code = codes.FailedPrecondition
	}
	return status.Error(code, appErr.Message)
}

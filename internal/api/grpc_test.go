package api

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"gearshare/internal/apperr"
	"gearshare/internal/config"
	"gearshare/internal/models"
)

func startGRPC(t *testing.T, bookings Bookings) *grpc.ClientConn {
	t.Helper()
	logger := zerolog.Nop()
	lis := bufconn.Listen(1 << 20)

	cfg := authConfig()
	cfg.GRPC = config.APIGRPCConfig{Enabled: true}
	srv, err := newGRPCServerWithListener(&cfg, bookings, lis, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Shutdown(context.Background())
	})
	return conn
}

func authedContext(actor string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(),
		"x-api-key", "web-key", "x-api-extra", "web-extra", "x-actor-id", actor)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPC_GetBooking(t *testing.T) {
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, int64(2), int64(5)).
		Return(&models.Booking{ID: 5, Status: models.StatusAccepted, PreauthID: "pa-1"}, nil)
	conn := startGRPC(t, bookings)

	out := new(structpb.Struct)
	err := conn.Invoke(authedContext("2"), getBookingMethod, mustStruct(t, map[string]any{"booking_id": 5}), out)
	require.NoError(t, err)
	assert.Equal(t, float64(5), out.GetFields()["id"].GetNumberValue())
	assert.Equal(t, models.StatusAccepted, out.GetFields()["status"].GetStringValue())
	bookings.AssertExpectations(t)
}

func TestGRPC_UpdateStatusErrors(t *testing.T) {
	bookings := new(mockBookings)
	cases := []struct {
		id   int64
		err  error
		want codes.Code
	}{
		{1, apperr.Validation("illegal transition", nil), codes.InvalidArgument},
		{2, apperr.Conflict("booking was modified concurrently"), codes.Aborted},
		{3, apperr.Authorization("wrong role"), codes.PermissionDenied},
		{4, apperr.NotFoundWithID("booking", 4), codes.NotFound},
		{5, apperr.Payment("capture declined", nil), codes.FailedPrecondition},
		{6, apperr.Internal("db down", nil), codes.Internal},
	}
	for _, tc := range cases {
		bookings.On("UpdateStatus", mock.Anything, int64(2), tc.id, models.StatusAccepted, "").Return(nil, tc.err)
	}
	conn := startGRPC(t, bookings)

	for _, tc := range cases {
		req := mustStruct(t, map[string]any{"booking_id": tc.id, "status": models.StatusAccepted})
		err := conn.Invoke(authedContext("2"), updateStatusMethod, req, new(structpb.Struct))
		assert.Equal(t, tc.want, status.Code(err), "booking %d", tc.id)
	}
}

func TestGRPC_RequestValidation(t *testing.T) {
	conn := startGRPC(t, new(mockBookings))

	err := conn.Invoke(authedContext("2"), getBookingMethod, mustStruct(t, map[string]any{}), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(authedContext("2"), getBookingMethod, mustStruct(t, map[string]any{"booking_id": 1.5}), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(authedContext("2"), updateStatusMethod, mustStruct(t, map[string]any{"booking_id": 1}), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(context.Background(), getBookingMethod, mustStruct(t, map[string]any{"booking_id": 1}), new(structpb.Struct))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	conn := startGRPC(t, new(mockBookings))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: bookingServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/body-measure/internal/estimator"
	"github.com/example/body-measure/internal/logging"
	"github.com/example/body-measure/internal/pose"
)

// EstimateMethod is the unary RPC served by the pose estimator. It takes the
// encoded image as google.protobuf.BytesValue and answers with a
// google.protobuf.Struct whose "keypoints" field lists one null or
// [x, y, confidence] entry per landmark slot.
const EstimateMethod = "/pose.v1.PoseEstimator/Estimate"

const userIDMetadataKey = "x-user-id"

type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// DialPoseEstimator returns a ready-to-use gRPC client for the pose model.
func DialPoseEstimator(ctx context.Context, addr string, logger *zap.Logger) (estimator.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_pose_estimator", "", err)
		logger.Error("failed to dial pose estimator", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return newPoseEstimator(conn, logger), conn, nil
}

func newPoseEstimator(conn invoker, logger *zap.Logger) *grpcPoseEstimator {
	return &grpcPoseEstimator{conn: conn, logger: logger.Named("pose_estimator")}
}

type grpcPoseEstimator struct {
	conn   invoker
	logger *zap.Logger
}

func (g *grpcPoseEstimator) Estimate(ctx context.Context, userID string, image []byte) (pose.KeypointSet, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, userIDMetadataKey, userID)

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, EstimateMethod, wrapperspb.Bytes(image), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.estimate_pose", "", err)
		g.logger.Error("pose estimator call failed",
			zap.Error(wrapped),
			zap.String("user_id", userID),
			zap.String("code", status.Code(err).String()),
		)
		return nil, wrapped
	}

	set, err := decodeKeypoints(resp)
	if err != nil {
		if !errors.Is(err, estimator.ErrNoPose) {
			g.logger.Warn("pose estimator returned malformed keypoints", zap.Error(err), zap.String("user_id", userID))
		}
		return nil, err
	}
	return set, nil
}

func decodeKeypoints(resp *structpb.Struct) (pose.KeypointSet, error) {
	field, ok := resp.GetFields()["keypoints"]
	if !ok {
		return nil, estimator.ErrNoPose
	}
	if _, isNull := field.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, estimator.ErrNoPose
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: keypoints field is not a list", pose.ErrMalformedKeypoints)
	}

	slots := make([][]float64, len(list.GetValues()))
	for i, entry := range list.GetValues() {
		if _, isNull := entry.GetKind().(*structpb.Value_NullValue); isNull {
			continue
		}
		triple := entry.GetListValue()
		if triple == nil {
			return nil, fmt.Errorf("%w: slot %d is not a list", pose.ErrMalformedKeypoints, i)
		}
		values := make([]float64, 0, len(triple.GetValues()))
		for _, v := range triple.GetValues() {
			if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
				return nil, fmt.Errorf("%w: slot %d holds a non-numeric value", pose.ErrMalformedKeypoints, i)
			}
			values = append(values, v.GetNumberValue())
		}
		slots[i] = values
	}

	set, err := pose.ParseSlots(slots)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, estimator.ErrNoPose
	}
	return set, nil
}

// Package telemetry exposes live sessions over gRPC: a server stream of compressed
// session snapshots for dashboards and a client stream that lets bots fly a drone with
// controller frames.
package telemetry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/logging"
)

const (
	snapshotStreamRateHz  = 20
	controlProcessTimeout = 40 * time.Millisecond
	defaultClientID       = "grpc"
)

// Option customises the behaviour of the telemetry service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithCompressor overrides the default payload compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements TelemetryServer on top of a Bridge.
type Service struct {
	bridge     Bridge
	compressor Compressor
	newTicker  tickerFactory
	log        *logging.Logger
}

var _ TelemetryServer = (*Service)(nil)

// NewService wires the service to the bridge and optional settings.
func NewService(bridge Bridge, opts ...Option) *Service {
	service := &Service{bridge: bridge, compressor: NewGZIPCompressor(), newTicker: defaultTickerFactory, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// StreamSnapshots sends the session named by the "session" field at a throttled cadence
// until the client leaves or the session ends.
func (s *Service) StreamSnapshots(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s == nil || s.bridge == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	sessionID := stringField(req, "session")
	if sessionID == "" {
		return status.Error(codes.InvalidArgument, "session is required")
	}
	if _, ok := s.bridge.SessionSnapshot(sessionID); !ok {
		return status.Errorf(codes.NotFound, "session %q not found", sessionID)
	}
	ctx := stream.Context()

	tickCh, stop := s.newTicker(time.Second / snapshotStreamRateHz)
	defer stop()

	var (
		sent     bool
		lastTick uint64
	)
	for {
		select {
		case <-ctx.Done():
			//1.- Surface context cancellation so clients can retry.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case <-tickCh:
			snap, ok := s.bridge.SessionSnapshot(sessionID)
			if !ok {
				//2.- The session ended; finish the stream cleanly.
				return nil
			}
			//3.- Paused sessions do not advance, so repeated ticks are skipped.
			if sent && snap.Tick == lastTick {
				continue
			}
			raw, err := json.Marshal(snap)
			if err != nil {
				return status.Errorf(codes.Internal, "encode snapshot: %v", err)
			}
			compressed, err := s.compressor.Compress(raw)
			if err != nil {
				return status.Errorf(codes.Internal, "compress snapshot: %v", err)
			}
			frame, err := structpb.NewStruct(map[string]any{
				"session":  sessionID,
				"tick":     snap.Tick,
				"encoding": s.compressor.Name(),
				"payload":  base64.StdEncoding.EncodeToString(compressed),
			})
			if err != nil {
				return status.Errorf(codes.Internal, "build frame: %v", err)
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
			sent = true
			lastTick = snap.Tick
		}
	}
}

type controlKey struct {
	session string
	client  string
}

// PushControls ingests controller frames and acknowledges them with accepted and
// rejected counts once the client closes the stream. Controls driven by the stream are
// neutralised when it ends.
func (s *Service) PushControls(stream grpc.ClientStreamingServer[structpb.Struct, structpb.Struct]) error {
	if s == nil || s.bridge == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	var accepted, rejected int

	//1.- Every controller this stream flew is released when the stream ends, however it ends.
	flown := make(map[controlKey]struct{})
	release := func() {
		for key := range flown {
			s.bridge.ReleaseControl(key.session, key.client)
			delete(flown, key)
		}
	}
	defer release()

	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			//2.- Release before acknowledging so the ack reports a settled session.
			release()
			ack, ackErr := structpb.NewStruct(map[string]any{"accepted": accepted, "rejected": rejected})
			if ackErr != nil {
				return status.Errorf(codes.Internal, "build ack: %v", ackErr)
			}
			return stream.SendAndClose(ack)
		}
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}
		sessionID := stringField(frame, "session")
		if sessionID == "" {
			return status.Error(codes.InvalidArgument, "session is required")
		}
		msg, err := s.decodeControl(frame)
		if err != nil {
			if _, isStatus := status.FromError(err); isStatus {
				return err
			}
			s.log.Debug("telemetry controller frame rejected", logging.Error(err), logging.Session(sessionID))
			rejected++
			continue
		}
		clientID := stringField(frame, "client")
		if clientID == "" {
			clientID = defaultClientID
		}

		//3.- Guard the pipeline call so bots receive feedback quickly.
		clientID = "grpc:" + clientID
		callCtx, cancel := context.WithTimeout(ctx, controlProcessTimeout)
		result := s.bridge.SubmitControl(callCtx, sessionID, clientID, msg)
		cancel()
		flown[controlKey{session: sessionID, client: clientID}] = struct{}{}
		if result.Err != nil {
			rejected++
			if result.Disconnect {
				return status.Error(codes.PermissionDenied, result.Err.Error())
			}
			continue
		}
		if result.Disconnect {
			return status.Error(codes.PermissionDenied, "too many invalid controller frames")
		}
		if result.Accepted {
			accepted++
		} else {
			rejected++
		}
	}
}

// decodeControl reads a controller message from a compressed "payload" or a plain
// "message" struct.
func (s *Service) decodeControl(frame *structpb.Struct) (controls.RemoteMessage, error) {
	var raw []byte
	if payload := stringField(frame, "payload"); payload != "" {
		if encoding := stringField(frame, "encoding"); encoding != s.compressor.Name() {
			return controls.RemoteMessage{}, status.Errorf(codes.InvalidArgument, "unsupported encoding %q", encoding)
		}
		compressed, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return controls.RemoteMessage{}, err
		}
		if raw, err = s.compressor.Decompress(compressed); err != nil {
			return controls.RemoteMessage{}, err
		}
	} else if value, ok := frame.GetFields()["message"]; ok && value.GetStructValue() != nil {
		var err error
		if raw, err = json.Marshal(value.GetStructValue().AsMap()); err != nil {
			return controls.RemoteMessage{}, err
		}
	} else {
		return controls.RemoteMessage{}, errors.New("frame carries no controller message")
	}
	var msg controls.RemoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return controls.RemoteMessage{}, err
	}
	return msg, nil
}

func stringField(msg *structpb.Struct, key string) string {
	if msg == nil {
		return ""
	}
	value, ok := msg.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value.GetStringValue())
}

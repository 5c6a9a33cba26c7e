package main

import (
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"dronerace/broker/internal/auth"
	configpkg "dronerace/broker/internal/config"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/telemetry"
)

const (
	sharedSecretMetadataKey = "x-broker-shared-secret"
	pairingTokenMetadataKey = "x-pairing-token"
)

// configureGRPCSecurity translates the configured auth mode into server options for the
// telemetry listener. tokens lets paired controllers join PushControls without the
// shared secret; nil disables that path.
func configureGRPCSecurity(cfg *configpkg.Config, tokens *auth.PairingTokens, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}

	switch cfg.GRPCAuthMode {
	case configpkg.GRPCAuthModeNone, "":
		logger.Warn("telemetry listener accepts unauthenticated streams")
		return nil, nil
	case configpkg.GRPCAuthModeMTLS:
		creds, err := loadMTLSCredentials(cfg.GRPCServerCertPath, cfg.GRPCServerKeyPath, cfg.GRPCClientCAPath)
		if err != nil {
			return nil, err
		}
		logger.Info("telemetry mTLS enabled")
		return []grpc.ServerOption{grpc.Creds(creds)}, nil
	case configpkg.GRPCAuthModeSharedSecret:
		guard := &telemetryGuard{secret: strings.TrimSpace(cfg.GRPCSharedSecret), tokens: tokens, log: logger}
		if tokens != nil {
			logger.Info("telemetry shared-secret authentication enabled; paired controllers may push controls")
		} else {
			logger.Info("telemetry shared-secret authentication enabled")
		}
		return []grpc.ServerOption{grpc.ChainStreamInterceptor(guard.intercept)}, nil
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.GRPCAuthMode)
	}
}

// telemetryGuard authorises telemetry streams per method. Snapshot observers need the
// shared secret. A controller on PushControls may present a pairing token instead, which
// confines every frame of its stream to the paired session.
type telemetryGuard struct {
	secret string
	tokens *auth.PairingTokens
	log    *logging.Logger
}

func (g *telemetryGuard) intercept(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	md, _ := metadata.FromIncomingContext(ss.Context())

	//1.- The shared secret opens every method.
	if candidate := extractSharedSecret(md); candidate != "" {
		if g.secret == "" || subtle.ConstantTimeCompare([]byte(candidate), []byte(g.secret)) != 1 {
			return status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(srv, ss)
	}

	//2.- A pairing token only opens the controller stream of its own session.
	token := firstValue(md, pairingTokenMetadataKey)
	if token == "" {
		return status.Error(codes.Unauthenticated, "missing telemetry credentials")
	}
	if info == nil || info.FullMethod != telemetry.PushControlsMethod {
		return status.Error(codes.PermissionDenied, "pairing tokens only authorise controller streams")
	}
	if g.tokens == nil {
		return status.Error(codes.Unauthenticated, "controller pairing is disabled")
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return status.Errorf(codes.Unauthenticated, "pairing token rejected: %v", err)
	}
	g.log.Info("paired controller stream opened", logging.Session(claims.Subject))
	return handler(srv, &pairedControlStream{ServerStream: ss, session: claims.Subject})
}

// pairedControlStream pins every received controller frame to one session. Frames without a
// session are addressed to it; frames for another session end the stream.
type pairedControlStream struct {
	grpc.ServerStream
	session string
}

func (s *pairedControlStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	frame, ok := m.(*structpb.Struct)
	if !ok {
		return nil
	}
	switch got := strings.TrimSpace(frame.GetFields()["session"].GetStringValue()); got {
	case s.session:
		return nil
	case "":
		if frame.Fields == nil {
			frame.Fields = make(map[string]*structpb.Value)
		}
		frame.Fields["session"] = structpb.NewStringValue(s.session)
		return nil
	default:
		return status.Errorf(codes.PermissionDenied, "pairing token does not cover session %q", got)
	}
}

func firstValue(md metadata.MD, key string) string {
	for _, value := range md.Get(key) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func extractSharedSecret(md metadata.MD) string {
	if secret := firstValue(md, sharedSecretMetadataKey); secret != "" {
		return secret
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"dronerace/broker/internal/auth"
	configpkg "dronerace/broker/internal/config"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/telemetry"
)

type stubServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *stubServerStream) Context() context.Context {
	return s.ctx
}

func generateSelfSignedCert(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "drone-broker-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

type frameServerStream struct {
	stubServerStream
	frames []*structpb.Struct
}

func (s *frameServerStream) RecvMsg(m any) error {
	if len(s.frames) == 0 {
		return io.EOF
	}
	proto.Merge(m.(*structpb.Struct), s.frames[0])
	s.frames = s.frames[1:]
	return nil
}

func newGuard(t *testing.T) (*telemetryGuard, *auth.PairingTokens) {
	t.Helper()
	tokens, err := auth.NewPairingTokens("pairing-secret", time.Minute, 0)
	if err != nil {
		t.Fatalf("NewPairingTokens: %v", err)
	}
	return &telemetryGuard{secret: "hunter2", tokens: tokens, log: logging.NewTestLogger()}, tokens
}

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestTelemetryGuardAuthorisesPerMethod(t *testing.T) {
	guard, tokens := newGuard(t)
	token, _, err := tokens.Issue("s-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name   string
		ctx    context.Context
		method string
		want   codes.Code
	}{
		{name: "observer with secret", ctx: incoming(sharedSecretMetadataKey, "hunter2"), method: telemetry.StreamSnapshotsMethod, want: codes.OK},
		{name: "controller with bearer secret", ctx: incoming("authorization", "Bearer hunter2"), method: telemetry.PushControlsMethod, want: codes.OK},
		{name: "controller with pairing token", ctx: incoming(pairingTokenMetadataKey, token), method: telemetry.PushControlsMethod, want: codes.OK},
		{name: "observer with pairing token", ctx: incoming(pairingTokenMetadataKey, token), method: telemetry.StreamSnapshotsMethod, want: codes.PermissionDenied},
		{name: "controller with forged token", ctx: incoming(pairingTokenMetadataKey, token+"x"), method: telemetry.PushControlsMethod, want: codes.Unauthenticated},
		{name: "wrong bearer", ctx: incoming("authorization", "Bearer letmein"), method: telemetry.PushControlsMethod, want: codes.Unauthenticated},
		{name: "no credentials", ctx: context.Background(), method: telemetry.StreamSnapshotsMethod, want: codes.Unauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := func(any, grpc.ServerStream) error {
				called = true
				return nil
			}
			err := guard.intercept(nil, &stubServerStream{ctx: tc.ctx}, &grpc.StreamServerInfo{FullMethod: tc.method}, handler)
			if status.Code(err) != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if called != (tc.want == codes.OK) {
				t.Fatalf("handler called=%v for %v", called, tc.want)
			}
		})
	}
}

func TestTelemetryGuardRejectsTokensWithoutPairing(t *testing.T) {
	guard, tokens := newGuard(t)
	token, _, err := tokens.Issue("s-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	guard.tokens = nil
	stream := &stubServerStream{ctx: incoming(pairingTokenMetadataKey, token)}
	err = guard.intercept(nil, stream, &grpc.StreamServerInfo{FullMethod: telemetry.PushControlsMethod}, func(any, grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated code, got %v", err)
	}
}

func TestPairedControllerFramesStayInTheirSession(t *testing.T) {
	guard, tokens := newGuard(t)
	token, _, err := tokens.Issue("s-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	unaddressed, _ := structpb.NewStruct(map[string]any{"type": "joystick"})
	own, _ := structpb.NewStruct(map[string]any{"session": "s-1", "type": "joystick"})
	foreign, _ := structpb.NewStruct(map[string]any{"session": "s-2", "type": "joystick"})
	stream := &frameServerStream{
		stubServerStream: stubServerStream{ctx: incoming(pairingTokenMetadataKey, token)},
		frames:           []*structpb.Struct{unaddressed, own, foreign},
	}

	var sessions []string
	var last error
	handler := func(_ any, ss grpc.ServerStream) error {
		for {
			frame := &structpb.Struct{}
			if err := ss.RecvMsg(frame); err != nil {
				last = err
				return err
			}
			sessions = append(sessions, frame.GetFields()["session"].GetStringValue())
		}
	}
	err = guard.intercept(nil, stream, &grpc.StreamServerInfo{FullMethod: telemetry.PushControlsMethod}, handler)
	if status.Code(err) != codes.PermissionDenied || last != err {
		t.Fatalf("expected the foreign frame to end the stream, got %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "s-1" || sessions[1] != "s-1" {
		t.Fatalf("expected both frames addressed to s-1, got %v", sessions)
	}
}

func TestSharedSecretStreamsAreNotRescoped(t *testing.T) {
	guard, _ := newGuard(t)
	foreign, _ := structpb.NewStruct(map[string]any{"session": "s-2"})
	stream := &frameServerStream{
		stubServerStream: stubServerStream{ctx: incoming(sharedSecretMetadataKey, "hunter2")},
		frames:           []*structpb.Struct{foreign},
	}
	handler := func(_ any, ss grpc.ServerStream) error {
		if _, paired := ss.(*pairedControlStream); paired {
			t.Fatal("shared-secret stream must not be pinned to a session")
		}
		frame := &structpb.Struct{}
		if err := ss.RecvMsg(frame); err != nil {
			return err
		}
		if got := frame.GetFields()["session"].GetStringValue(); got != "s-2" {
			t.Fatalf("expected frame untouched, got %q", got)
		}
		return nil
	}
	if err := guard.intercept(nil, stream, &grpc.StreamServerInfo{FullMethod: telemetry.PushControlsMethod}, handler); err != nil {
		t.Fatalf("intercept: %v", err)
	}
}

func TestExtractSharedSecretPrefersDedicatedHeader(t *testing.T) {
	md := metadata.Pairs(sharedSecretMetadataKey, " primary ", "authorization", "Bearer fallback")
	if got := extractSharedSecret(md); got != "primary" {
		t.Fatalf("expected dedicated header, got %q", got)
	}
	if got := extractSharedSecret(metadata.Pairs("authorization", "Bearer fallback")); got != "fallback" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if got := extractSharedSecret(nil); got != "" {
		t.Fatalf("expected empty secret, got %q", got)
	}
}

func TestLoadMTLSCredentialsFailsWithBadPaths(t *testing.T) {
	if _, err := loadMTLSCredentials("missing-cert", "missing-key", "missing-ca"); err == nil {
		t.Fatal("expected error for missing files")
	}
}

func TestConfigureGRPCSecurityMTLS(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t)
	cfg := &configpkg.Config{GRPCAuthMode: configpkg.GRPCAuthModeMTLS, GRPCServerCertPath: certFile, GRPCServerKeyPath: keyFile, GRPCClientCAPath: certFile}
	opts, err := configureGRPCSecurity(cfg, nil, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("configureGRPCSecurity: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("expected grpc options for mtls configuration")
	}
}

func TestConfigureGRPCSecuritySharedSecret(t *testing.T) {
	cfg := &configpkg.Config{GRPCAuthMode: configpkg.GRPCAuthModeSharedSecret, GRPCSharedSecret: "hunter2"}
	opts, err := configureGRPCSecurity(cfg, nil, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("configureGRPCSecurity: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("expected grpc options for shared secret configuration")
	}
}

func TestConfigureGRPCSecurityModes(t *testing.T) {
	opts, err := configureGRPCSecurity(&configpkg.Config{GRPCAuthMode: configpkg.GRPCAuthModeNone}, nil, logging.NewTestLogger())
	if err != nil || len(opts) != 0 {
		t.Fatalf("expected no options without auth, got %d %v", len(opts), err)
	}
	if _, err := configureGRPCSecurity(&configpkg.Config{GRPCAuthMode: "kerberos"}, nil, logging.NewTestLogger()); err == nil {
		t.Fatal("expected unsupported mode error")
	}
	if _, err := configureGRPCSecurity(nil, nil, logging.NewTestLogger()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

package v201

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SecurityConfig holds the handshake admission policy.
type SecurityConfig struct {
	// AllowedOrigins applies to browser clients only. "*" allows all.
	AllowedOrigins []string

	// AllowedChargePointIDs restricts which ids may attach. Empty means any id.
	AllowedChargePointIDs []string

	// Subprotocols lists the accepted protocol tags, preferred first.
	Subprotocols []string

	// RequireSubprotocol rejects handshakes that offer none of Subprotocols.
	// When false such handshakes are accepted and logged.
	RequireSubprotocol bool

	TLSEnabled        bool
	TLSCertFile       string
	TLSKeyFile        string
	TLSClientCA       string
	RequireClientCert bool

	// MaxConnectionsPerIP of 0 disables the limit.
	MaxConnectionsPerIP int
}

func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		Subprotocols:        []string{"ocpp2.0.1"},
		RequireSubprotocol:  false,
		MaxConnectionsPerIP: 0,
	}
}

// SecurityManager decides whether a handshake may proceed.
type SecurityManager struct {
	config              *SecurityConfig
	log                 *zap.Logger
	allowedOrigins      map[string]bool
	allowedChargePoints map[string]bool
	subprotocols        map[string]bool

	mu              sync.Mutex
	connectionCount map[string]int
}

func NewSecurityManager(config *SecurityConfig, log *zap.Logger) *SecurityManager {
	if config == nil {
		config = DefaultSecurityConfig()
	}

	sm := &SecurityManager{
		config:              config,
		log:                 log,
		allowedOrigins:      make(map[string]bool),
		allowedChargePoints: make(map[string]bool),
		subprotocols:        make(map[string]bool),
		connectionCount:     make(map[string]int),
	}
	for _, origin := range config.AllowedOrigins {
		sm.allowedOrigins[strings.ToLower(origin)] = true
	}
	for _, cpID := range config.AllowedChargePointIDs {
		sm.allowedChargePoints[cpID] = true
	}
	for _, proto := range config.Subprotocols {
		sm.subprotocols[proto] = true
	}
	return sm
}

// CheckOrigin lets non-browser clients through and matches browser origins
// against the allow-list, including "*.example.com" patterns.
func (sm *SecurityManager) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if sm.allowedOrigins["*"] {
		return true
	}

	originLower := strings.ToLower(origin)
	originHost := originLower
	if idx := strings.Index(originLower, "://"); idx != -1 {
		originHost = originLower[idx+3:]
	}
	if sm.allowedOrigins[originLower] || sm.allowedOrigins[originHost] {
		return true
	}
	for allowed := range sm.allowedOrigins {
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(originHost, allowed[1:]) {
			return true
		}
	}

	sm.log.Warn("Origin rejected",
		zap.String("origin", origin),
		zap.String("remote_addr", r.RemoteAddr),
	)
	return false
}

func (sm *SecurityManager) ValidateChargePoint(chargePointID string, r *http.Request) error {
	if len(sm.allowedChargePoints) == 0 || sm.allowedChargePoints[chargePointID] {
		return nil
	}
	sm.log.Warn("Charge point rejected: not in allowed list",
		zap.String("charger_id", chargePointID),
		zap.String("remote_addr", r.RemoteAddr),
	)
	return fmt.Errorf("charge point not authorized: %s", chargePointID)
}

// NegotiateSubprotocol picks the first offered protocol we support. ok is
// false when the handshake must be rejected under the configured policy.
func (sm *SecurityManager) NegotiateSubprotocol(offered []string) (proto string, ok bool) {
	for _, p := range offered {
		if sm.subprotocols[p] {
			return p, true
		}
	}
	return "", !sm.config.RequireSubprotocol
}

func (sm *SecurityManager) CheckRateLimit(r *http.Request) bool {
	if sm.config.MaxConnectionsPerIP <= 0 {
		return true
	}

	ip := getClientIP(r)
	sm.mu.Lock()
	count := sm.connectionCount[ip]
	sm.mu.Unlock()

	if count >= sm.config.MaxConnectionsPerIP {
		sm.log.Warn("Rate limit exceeded",
			zap.String("ip", ip),
			zap.Int("connections", count),
			zap.Int("limit", sm.config.MaxConnectionsPerIP),
		)
		return false
	}
	return true
}

func (sm *SecurityManager) RegisterConnection(r *http.Request) {
	ip := getClientIP(r)
	sm.mu.Lock()
	sm.connectionCount[ip]++
	sm.mu.Unlock()
}

func (sm *SecurityManager) UnregisterConnection(r *http.Request) {
	ip := getClientIP(r)
	sm.mu.Lock()
	if sm.connectionCount[ip] > 1 {
		sm.connectionCount[ip]--
	} else {
		delete(sm.connectionCount, ip)
	}
	sm.mu.Unlock()
}

// TLSConfig returns nil when TLS is disabled.
func (sm *SecurityManager) TLSConfig() (*tls.Config, error) {
	if !sm.config.TLSEnabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(sm.config.TLSCertFile, sm.config.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if sm.config.RequireClientCert && sm.config.TLSClientCA != "" {
		caCert, err := os.ReadFile(sm.config.TLSClientCA)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse client CA certificate")
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

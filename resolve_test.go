package main

import (
	"strings"
	"testing"
)

func TestResolveConnDirect(t *testing.T) {
	ep := Endpoint{Host: "db.example.com", Port: 3307, User: "u", Password: "p", Database: "app"}
	conn := resolveConn(ep, nil)
	if conn.Host != ep.Host || conn.Port != ep.Port {
		t.Errorf("resolveConn() = %s:%d, want %s:%d", conn.Host, conn.Port, ep.Host, ep.Port)
	}
	if conn.User != "u" || conn.Password != "p" || conn.Database != "app" {
		t.Errorf("credentials not carried through: %+v", conn)
	}
}

func TestResolveConnTunneled(t *testing.T) {
	ep := Endpoint{Host: "db.internal", Port: 3306, User: "u", Password: "p", Database: "app"}
	tun := &Tunnel{spec: TunnelSpec{LocalPort: 43121, SSHHost: "bastion"}, state: tunnelReady}
	conn := resolveConn(ep, tun)
	if conn.Host != "127.0.0.1" || conn.Port != 43121 {
		t.Errorf("resolveConn() = %s:%d, want 127.0.0.1:43121", conn.Host, conn.Port)
	}
	if conn.User != "u" || conn.Database != "app" {
		t.Errorf("credentials must come from the endpoint, got %+v", conn)
	}
}

func TestResolveConnNotReadyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("resolveConn with a non-ready tunnel should panic")
		}
	}()
	tun := &Tunnel{spec: TunnelSpec{SSHHost: "bastion"}, state: tunnelEstablishing}
	resolveConn(Endpoint{Host: "h", Port: 1}, tun)
}

func TestServerDSN(t *testing.T) {
	conn := EffectiveConnection{Host: "127.0.0.1", Port: 43121, User: "u", Password: "p", Database: "app"}

	withDB := serverDSN(conn, true)
	if !strings.Contains(withDB, "tcp(127.0.0.1:43121)") {
		t.Errorf("serverDSN = %q, missing address", withDB)
	}
	if !strings.Contains(withDB, "/app") {
		t.Errorf("serverDSN = %q, missing database", withDB)
	}

	noDB := serverDSN(conn, false)
	if strings.Contains(noDB, "app") {
		t.Errorf("serverDSN(withDB=false) = %q, should not select a database", noDB)
	}
}

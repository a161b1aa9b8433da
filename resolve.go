package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

// resolveConn returns the address the dump/restore tools should use to reach
// an endpoint: the tunnel's loopback forward when one is open, the endpoint's
// own host/port otherwise. Pure; a tunnel that is present but not ready is a
// sequencing bug in the caller, not a runtime condition.
func resolveConn(ep Endpoint, tun *Tunnel) EffectiveConnection {
	conn := EffectiveConnection{
		Host:     ep.Host,
		Port:     ep.Port,
		User:     ep.User,
		Password: ep.Password,
		Database: ep.Database,
	}
	if tun != nil {
		if !tun.Ready() {
			panic(fmt.Sprintf("resolveConn: tunnel via %s is %s, not ready", tun.spec.SSHHost, tun.State()))
		}
		conn.Host = "127.0.0.1"
		conn.Port = tun.LocalPort()
	}
	return conn
}

// serverDSN formats a go-sql-driver DSN for conn. withDB=false leaves no
// database selected, for statements that must run before the target database
// exists.
func serverDSN(conn EffectiveConnection, withDB bool) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))
	if withDB {
		cfg.DBName = conn.Database
	}
	cfg.InterpolateParams = true
	return cfg.FormatDSN()
}

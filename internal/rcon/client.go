package rcon

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// ErrAuthFailed indicates the server rejected the shared secret.
var ErrAuthFailed = errors.New("rcon: authentication rejected")

// Conn is one authenticated console session. Implementations are not safe
// for concurrent use; the Manager serializes access per server.
type Conn interface {
	Exec(cmd string) (string, error)
	Close() error
}

// Client is a Conn over a real TCP transport.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	nextID  int32
}

// Dial connects to a console at addr, authenticates with the shared
// secret, and returns a ready session. The timeout bounds the TCP connect,
// the auth round-trip, and every later command.
func Dial(addr, password string, timeout time.Duration) (Conn, error) {
	tcp, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	c := &Client{conn: tcp, timeout: timeout}
	if err := c.auth(password); err != nil {
		_ = tcp.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) auth(password string) error {
	id := c.id()
	if err := c.roundTripStart(packet{ID: id, Type: typeAuth, Body: password}); err != nil {
		return err
	}

	// Some servers send an empty response-value frame ahead of the auth
	// response; skip until the typeCommand reply arrives.
	for {
		reply, err := readPacket(c.conn)
		if err != nil {
			return err
		}
		if reply.Type != typeCommand {
			continue
		}
		if reply.ID == authFailedID {
			return ErrAuthFailed
		}
		if reply.ID != id {
			return fmt.Errorf("rcon: unexpected auth response id %d", reply.ID)
		}
		return nil
	}
}

// Exec sends one command and returns the reply body. Any transport or
// deadline error leaves the session unusable; the caller must close it.
func (c *Client) Exec(cmd string) (string, error) {
	id := c.id()
	if err := c.roundTripStart(packet{ID: id, Type: typeCommand, Body: cmd}); err != nil {
		return "", err
	}

	for {
		reply, err := readPacket(c.conn)
		if err != nil {
			return "", err
		}
		if reply.Type == typeResponse && reply.ID == id {
			return reply.Body, nil
		}
	}
}

// Close terminates the underlying transport.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTripStart arms the command deadline and writes the request frame.
func (c *Client) roundTripStart(p packet) error {
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}

	return writePacket(c.conn, p)
}

func (c *Client) id() int32 {
	return atomic.AddInt32(&c.nextID, 1)
}

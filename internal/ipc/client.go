package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client is a JSON-RPC client for the daemon control socket.
type Client struct {
	client *rpc.Client
}

// Dial connects to the daemon socket at the given path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	return &Client{client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

func (c *Client) Start(req StartRequest) (StartResponse, error) {
	var resp StartResponse
	err := c.call("Start", req, &resp)
	return resp, err
}

func (c *Client) Stop(req StopRequest) (StopResponse, error) {
	var resp StopResponse
	err := c.call("Stop", req, &resp)
	return resp, err
}

func (c *Client) Status(req StatusRequest) (StatusResponse, error) {
	var resp StatusResponse
	err := c.call("Status", req, &resp)
	return resp, err
}

func (c *Client) RunList(req RunListRequest) (RunListResponse, error) {
	var resp RunListResponse
	err := c.call("RunList", req, &resp)
	return resp, err
}

func (c *Client) RunShow(req RunShowRequest) (RunShowResponse, error) {
	var resp RunShowResponse
	err := c.call("RunShow", req, &resp)
	return resp, err
}

func (c *Client) RunCancel(req RunCancelRequest) (RunCancelResponse, error) {
	var resp RunCancelResponse
	err := c.call("RunCancel", req, &resp)
	return resp, err
}

func (c *Client) RunRetry(req RunRetryRequest) (RunRetryResponse, error) {
	var resp RunRetryResponse
	err := c.call("RunRetry", req, &resp)
	return resp, err
}

func (c *Client) Dispatch(req DispatchRequest) (DispatchResponse, error) {
	var resp DispatchResponse
	err := c.call("Dispatch", req, &resp)
	return resp, err
}

func (c *Client) Event(req EventRequest) (EventResponse, error) {
	var resp EventResponse
	err := c.call("Event", req, &resp)
	return resp, err
}

func (c *Client) QueueClear(req QueueClearRequest) (QueueClearResponse, error) {
	var resp QueueClearResponse
	err := c.call("QueueClear", req, &resp)
	return resp, err
}

func (c *Client) DatabaseHealth(req DatabaseHealthRequest) (DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	err := c.call("DatabaseHealth", req, &resp)
	return resp, err
}

func (c *Client) TestNotification(req TestNotificationRequest) (TestNotificationResponse, error) {
	var resp TestNotificationResponse
	err := c.call("TestNotification", req, &resp)
	return resp, err
}

func (c *Client) Reload(req ReloadRequest) (ReloadResponse, error) {
	var resp ReloadResponse
	err := c.call("Reload", req, &resp)
	return resp, err
}

package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the admin service.
type Client struct {
	registerEndpoint       *connect.Client[RegisterEndpointRequest, EndpointResponse]
	updateEndpoint         *connect.Client[UpdateEndpointRequest, EndpointResponse]
	deleteEndpoint         *connect.Client[EndpointRequest, DeleteEndpointResponse]
	getEndpoint            *connect.Client[EndpointRequest, EndpointResponse]
	listEndpoints          *connect.Client[ListEndpointsRequest, ListEndpointsResponse]
	emit                   *connect.Client[EmitRequest, EmitResponse]
	getDeliveryStatus      *connect.Client[DeliveryRequest, DeliveryResponse]
	listDeliveries         *connect.Client[ListDeliveriesRequest, ListDeliveriesResponse]
	listDeadLetters        *connect.Client[ListDeliveriesRequest, ListDeliveriesResponse]
	retryDelivery          *connect.Client[DeliveryRequest, RetryDeliveryResponse]
	testEndpoint           *connect.Client[EndpointRequest, TestEndpointResponse]
	verifyInboundSignature *connect.Client[VerifySignatureRequest, VerifySignatureResponse]
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &Client{
		registerEndpoint:       connect.NewClient[RegisterEndpointRequest, EndpointResponse](httpClient, baseURL+RegisterEndpointProcedure, opts...),
		updateEndpoint:         connect.NewClient[UpdateEndpointRequest, EndpointResponse](httpClient, baseURL+UpdateEndpointProcedure, opts...),
		deleteEndpoint:         connect.NewClient[EndpointRequest, DeleteEndpointResponse](httpClient, baseURL+DeleteEndpointProcedure, opts...),
		getEndpoint:            connect.NewClient[EndpointRequest, EndpointResponse](httpClient, baseURL+GetEndpointProcedure, opts...),
		listEndpoints:          connect.NewClient[ListEndpointsRequest, ListEndpointsResponse](httpClient, baseURL+ListEndpointsProcedure, opts...),
		emit:                   connect.NewClient[EmitRequest, EmitResponse](httpClient, baseURL+EmitProcedure, opts...),
		getDeliveryStatus:      connect.NewClient[DeliveryRequest, DeliveryResponse](httpClient, baseURL+GetDeliveryStatusProcedure, opts...),
		listDeliveries:         connect.NewClient[ListDeliveriesRequest, ListDeliveriesResponse](httpClient, baseURL+ListDeliveriesProcedure, opts...),
		listDeadLetters:        connect.NewClient[ListDeliveriesRequest, ListDeliveriesResponse](httpClient, baseURL+ListDeadLettersProcedure, opts...),
		retryDelivery:          connect.NewClient[DeliveryRequest, RetryDeliveryResponse](httpClient, baseURL+RetryDeliveryProcedure, opts...),
		testEndpoint:           connect.NewClient[EndpointRequest, TestEndpointResponse](httpClient, baseURL+TestEndpointProcedure, opts...),
		verifyInboundSignature: connect.NewClient[VerifySignatureRequest, VerifySignatureResponse](httpClient, baseURL+VerifyInboundSignatureProcedure, opts...),
	}
}

func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) RegisterEndpoint(ctx context.Context, req *RegisterEndpointRequest) (*Endpoint, error) {
	resp, err := unary(ctx, c.registerEndpoint, req)
	if err != nil {
		return nil, err
	}
	return resp.Endpoint, nil
}

func (c *Client) UpdateEndpoint(ctx context.Context, req *UpdateEndpointRequest) (*Endpoint, error) {
	resp, err := unary(ctx, c.updateEndpoint, req)
	if err != nil {
		return nil, err
	}
	return resp.Endpoint, nil
}

func (c *Client) DeleteEndpoint(ctx context.Context, id string) (bool, error) {
	resp, err := unary(ctx, c.deleteEndpoint, &EndpointRequest{ID: id})
	if err != nil {
		return false, err
	}
	return resp.Deleted, nil
}

func (c *Client) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	resp, err := unary(ctx, c.getEndpoint, &EndpointRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Endpoint, nil
}

func (c *Client) ListEndpoints(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	resp, err := unary(ctx, c.listEndpoints, &ListEndpointsRequest{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return resp.Endpoints, nil
}

func (c *Client) Emit(ctx context.Context, req *EmitRequest) (string, error) {
	resp, err := unary(ctx, c.emit, req)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (c *Client) GetDeliveryStatus(ctx context.Context, id string) (*Delivery, error) {
	resp, err := unary(ctx, c.getDeliveryStatus, &DeliveryRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Delivery, nil
}

func (c *Client) ListDeliveries(ctx context.Context, req *ListDeliveriesRequest) ([]*Delivery, error) {
	resp, err := unary(ctx, c.listDeliveries, req)
	if err != nil {
		return nil, err
	}
	return resp.Deliveries, nil
}

func (c *Client) ListDeadLetters(ctx context.Context, req *ListDeliveriesRequest) ([]*Delivery, error) {
	resp, err := unary(ctx, c.listDeadLetters, req)
	if err != nil {
		return nil, err
	}
	return resp.Deliveries, nil
}

func (c *Client) RetryDelivery(ctx context.Context, id string) (bool, error) {
	resp, err := unary(ctx, c.retryDelivery, &DeliveryRequest{ID: id})
	if err != nil {
		return false, err
	}
	return resp.Rearmed, nil
}

func (c *Client) TestEndpoint(ctx context.Context, id string) (*TestEndpointResponse, error) {
	return unary(ctx, c.testEndpoint, &EndpointRequest{ID: id})
}

func (c *Client) VerifyInboundSignature(ctx context.Context, req *VerifySignatureRequest) (bool, error) {
	resp, err := unary(ctx, c.verifyInboundSignature, req)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

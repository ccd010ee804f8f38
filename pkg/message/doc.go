// Package message defines the envelope exchanged between the gateway,
// the message bus and the workers that answer requests.
//
// # Identity
//
// Every envelope has its own message id. The correlation id is minted once
// when a request enters the gateway and copied into every reply, so the
// gateway can pair a reply with the caller waiting for it without a
// coordinator. The causation id names the envelope that directly caused
// this one.
//
// # Wire format
//
//	{
//	  "name": "Gateway.Response",
//	  "content": "{\"status\":201,\"content\":{\"id\":7}}",
//	  "message_id": "<uuid>",
//	  "correlation_id": "<uuid>",
//	  "causation_id": "<uuid>",
//	  "timestamp": "2025-10-29T13:00:00Z"
//	}
//
// Content is an opaque string; for gateway traffic it holds JSON.
package message

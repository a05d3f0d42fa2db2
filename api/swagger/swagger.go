package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Hall Pass API",
        "description": "Hall-pass admission, live hall monitoring and emergency accountability.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Passes", "description": "Pass requests and lifecycle"},
        {"name": "Locations", "description": "Live occupancy"},
        {"name": "Emergency", "description": "Roll-call during an emergency"},
        {"name": "Realtime", "description": "Websocket event stream"},
        {"name": "Health", "description": "Probes and metrics"}
    ],
    "paths": {
        "/passes/request": {
            "post": {
                "tags": ["Passes"],
                "summary": "Request a pass",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RequestPassRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/PassEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate pass, capacity full or encounter conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No-fly window", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Daily limit reached", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Busy, retry", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/passes/{id}/approve": {
            "post": {
                "tags": ["Passes"],
                "summary": "Approve a pending pass",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Active pass, or denied pass with denial_reason", "schema": {"$ref": "#/definitions/PassEnvelope"}},
                    "409": {"description": "Invalid transition or stale state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/passes/{id}/deny": {
            "post": {
                "tags": ["Passes"],
                "summary": "Deny a pending pass",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/DenyPassRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/PassEnvelope"}}}
            }
        },
        "/passes/{id}/end": {
            "post": {
                "tags": ["Passes"],
                "summary": "Return from a pass",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/PassEnvelope"}}}
            }
        },
        "/passes/{id}/extend": {
            "post": {
                "tags": ["Passes"],
                "summary": "Extend an active or overtime pass",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "additional_minutes", "in": "query", "required": true, "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/PassEnvelope"}}}
            }
        },
        "/passes/{id}": {
            "get": {
                "tags": ["Passes"],
                "summary": "Get a pass",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/PassEnvelope"}}}
            }
        },
        "/passes/active": {
            "get": {
                "tags": ["Passes"],
                "summary": "Current open pass for a student",
                "parameters": [{"name": "studentId", "in": "query", "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/PassEnvelope"}}}
            }
        },
        "/passes/history": {
            "get": {
                "tags": ["Passes"],
                "summary": "Pass history for a student",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/passes/hall-monitor": {
            "get": {
                "tags": ["Passes"],
                "summary": "Students currently out",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/passes/overtime": {
            "get": {
                "tags": ["Passes"],
                "summary": "Passes past their time limit",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/locations/capacity-status": {
            "get": {
                "tags": ["Locations"],
                "summary": "Live occupancy per location",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/emergency/alerts/{alertId}/roll-call": {
            "get": {
                "tags": ["Emergency"],
                "summary": "Roll-call for the active emergency",
                "parameters": [{"name": "alertId", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Alert is not the active emergency", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/emergency/alerts/{alertId}/roll-call/export": {
            "get": {
                "tags": ["Emergency"],
                "summary": "Download the roll-call",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "alertId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        },
        "/realtime/ws": {
            "get": {
                "tags": ["Realtime"],
                "summary": "Subscribe to pass events",
                "parameters": [{"name": "access_token", "in": "query", "type": "string"}],
                "responses": {"101": {"description": "Switching protocols"}}
            }
        }
    },
    "definitions": {
        "RequestPassRequest": {
            "type": "object",
            "required": ["origin", "destination"],
            "properties": {
                "student_id": {"type": "string"},
                "origin": {"type": "string"},
                "destination": {"type": "string"},
                "time_limit_minutes": {"type": "integer"}
            }
        },
        "DenyPassRequest": {
            "type": "object",
            "properties": {"reason": {"type": "string"}}
        },
        "Pass": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "student_id": {"type": "string"},
                "origin_location_id": {"type": "string"},
                "destination_location_id": {"type": "string"},
                "status": {"type": "string", "enum": ["PENDING", "ACTIVE", "OVERTIME", "COMPLETED", "DENIED"]},
                "requested_at": {"type": "string", "format": "date-time"},
                "approved_at": {"type": "string", "format": "date-time"},
                "expected_return_at": {"type": "string", "format": "date-time"},
                "ended_at": {"type": "string", "format": "date-time"},
                "overtime_at": {"type": "string", "format": "date-time"},
                "time_limit_minutes": {"type": "integer"},
                "approver_id": {"type": "string"},
                "requested_by": {"type": "string"},
                "denial_reason": {"type": "string"},
                "version": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        },
        "PassEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/Pass"},
                "error": {"$ref": "#/definitions/APIError"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

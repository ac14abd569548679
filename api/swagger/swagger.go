package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Studio Schedule API",
        "description": "Recurring class series, occurrences and edit-scope changes",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {
            "name": "Series",
            "description": "Recurring class series"
        },
        {
            "name": "Occurrences",
            "description": "Dated class instances"
        },
        {
            "name": "Changes",
            "description": "Scoped edits with impact preview"
        },
        {
            "name": "Calendar",
            "description": "iCalendar subscriptions"
        },
        {
            "name": "Recurrence",
            "description": "Rule helpers"
        },
        {
            "name": "Observability",
            "description": "Health and metrics"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Liveness check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "A dependency is unavailable"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/api/v1/metrics/summary": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Scheduling counters snapshot",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series": {
            "get": {
                "tags": [
                    "Series"
                ],
                "summary": "List class series",
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "array",
                        "items": {
                            "type": "string",
                            "enum": [
                                "active",
                                "paused",
                                "ended"
                            ]
                        },
                        "collectionFormat": "multi"
                    },
                    {
                        "name": "instructorId",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "locationId",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "pageSize",
                        "in": "query",
                        "type": "integer"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "Create a recurring class series",
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateSeriesRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Invalid rule or payload"
                    }
                }
            }
        },
        "/api/v1/series/{id}": {
            "get": {
                "tags": [
                    "Series"
                ],
                "summary": "Get a class series",
                "description": "The ETag header carries the series version.",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found"
                    }
                }
            }
        },
        "/api/v1/series/{id}/pause": {
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "Pause generation",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/resume": {
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "Resume generation",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/end": {
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "End a series",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/EndSeriesRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/skip-dates": {
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "Exclude a date",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SkipDateRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/materialize": {
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "Generate occurrences ahead",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/MaterializeRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/occurrences": {
            "get": {
                "tags": [
                    "Occurrences"
                ],
                "summary": "List occurrences",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "type": "string",
                        "format": "date"
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "type": "string",
                        "format": "date"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/preview": {
            "post": {
                "tags": [
                    "Changes"
                ],
                "summary": "Preview the impact of an edit",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/PreviewRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/apply": {
            "post": {
                "tags": [
                    "Changes"
                ],
                "summary": "Commit an edit across a scope",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "If-Match",
                        "in": "header",
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ApplyRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Series was modified concurrently",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/calendar-token": {
            "post": {
                "tags": [
                    "Calendar"
                ],
                "summary": "Issue a calendar subscription token",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/series/{id}/calendar.ics": {
            "get": {
                "tags": [
                    "Calendar"
                ],
                "summary": "Series occurrences as iCalendar",
                "produces": [
                    "text/calendar"
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "token",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "type": "string",
                        "format": "date"
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "type": "string",
                        "format": "date"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "VCALENDAR document"
                    },
                    "401": {
                        "description": "Invalid token"
                    }
                }
            }
        },
        "/api/v1/occurrences/{id}": {
            "patch": {
                "tags": [
                    "Occurrences"
                ],
                "summary": "Override one occurrence",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UpdateOccurrenceRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/occurrences/{id}/cancel": {
            "post": {
                "tags": [
                    "Occurrences"
                ],
                "summary": "Cancel one occurrence",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CancelOccurrenceRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/recurrence/describe": {
            "post": {
                "tags": [
                    "Recurrence"
                ],
                "summary": "Describe a recurrence rule",
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DescribeRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/generation/run": {
            "post": {
                "tags": [
                    "Series"
                ],
                "summary": "Run occurrence generation now",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "CreateSeriesRequest": {
            "type": "object",
            "required": [
                "name",
                "instructorId",
                "locationId",
                "rule",
                "startDate",
                "startTime",
                "endTime",
                "capacity"
            ],
            "properties": {
                "name": {
                    "type": "string"
                },
                "instructorId": {
                    "type": "string"
                },
                "locationId": {
                    "type": "string"
                },
                "roomId": {
                    "type": "string"
                },
                "rule": {
                    "type": "string",
                    "example": "FREQ=WEEKLY;BYDAY=MO"
                },
                "startDate": {
                    "type": "string",
                    "format": "date"
                },
                "endDate": {
                    "type": "string",
                    "format": "date"
                },
                "occurrenceCount": {
                    "type": "integer"
                },
                "startTime": {
                    "type": "string",
                    "example": "09:00"
                },
                "endTime": {
                    "type": "string",
                    "example": "10:00"
                },
                "capacity": {
                    "type": "integer"
                },
                "priceCents": {
                    "type": "integer"
                },
                "skipDates": {
                    "type": "array",
                    "items": {
                        "type": "string",
                        "format": "date"
                    }
                }
            }
        },
        "ChangesRequest": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "rule": {
                    "type": "string"
                },
                "date": {
                    "type": "string",
                    "format": "date"
                },
                "startTime": {
                    "type": "string",
                    "example": "09:00"
                },
                "endTime": {
                    "type": "string",
                    "example": "10:00"
                },
                "instructorId": {
                    "type": "string"
                },
                "locationId": {
                    "type": "string"
                },
                "roomId": {
                    "type": "string"
                },
                "capacity": {
                    "type": "integer"
                },
                "priceCents": {
                    "type": "integer"
                },
                "cancel": {
                    "type": "boolean"
                },
                "cancelReason": {
                    "type": "string"
                }
            }
        },
        "PreviewRequest": {
            "type": "object",
            "required": [
                "fromDate",
                "scope"
            ],
            "properties": {
                "fromDate": {
                    "type": "string",
                    "format": "date"
                },
                "scope": {
                    "type": "string",
                    "enum": [
                        "this_only",
                        "this_and_following",
                        "entire_series"
                    ]
                },
                "changes": {
                    "$ref": "#/definitions/ChangesRequest"
                }
            }
        },
        "ApplyRequest": {
            "type": "object",
            "required": [
                "fromDate",
                "scope"
            ],
            "properties": {
                "fromDate": {
                    "type": "string",
                    "format": "date"
                },
                "scope": {
                    "type": "string",
                    "enum": [
                        "this_only",
                        "this_and_following",
                        "entire_series"
                    ]
                },
                "changes": {
                    "$ref": "#/definitions/ChangesRequest"
                },
                "policy": {
                    "type": "string",
                    "enum": [
                        "auto_move",
                        "offer_credit",
                        "allow_refund",
                        "send_rebook_links"
                    ]
                },
                "expectedVersion": {
                    "type": "integer"
                }
            }
        },
        "UpdateOccurrenceRequest": {
            "type": "object",
            "properties": {
                "date": {
                    "type": "string",
                    "format": "date"
                },
                "startTime": {
                    "type": "string",
                    "example": "09:00"
                },
                "endTime": {
                    "type": "string",
                    "example": "10:00"
                },
                "instructorId": {
                    "type": "string"
                },
                "locationId": {
                    "type": "string"
                },
                "roomId": {
                    "type": "string"
                },
                "capacity": {
                    "type": "integer"
                },
                "priceCents": {
                    "type": "integer"
                }
            }
        },
        "CancelOccurrenceRequest": {
            "type": "object",
            "required": [
                "reason"
            ],
            "properties": {
                "reason": {
                    "type": "string"
                }
            }
        },
        "SkipDateRequest": {
            "type": "object",
            "required": [
                "date"
            ],
            "properties": {
                "date": {
                    "type": "string",
                    "format": "date"
                },
                "reason": {
                    "type": "string"
                }
            }
        },
        "EndSeriesRequest": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string"
                }
            }
        },
        "MaterializeRequest": {
            "type": "object",
            "properties": {
                "through": {
                    "type": "string",
                    "format": "date"
                }
            }
        },
        "DescribeRequest": {
            "type": "object",
            "required": [
                "rule"
            ],
            "properties": {
                "rule": {
                    "type": "string"
                },
                "startDate": {
                    "type": "string",
                    "format": "date"
                },
                "endDate": {
                    "type": "string",
                    "format": "date"
                },
                "count": {
                    "type": "integer"
                },
                "preview": {
                    "type": "integer"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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

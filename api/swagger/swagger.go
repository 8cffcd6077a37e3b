package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Timetable API",
        "description": "Weekly course timetable generation, versioning and export",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Timetables", "description": "Generate, save and export weekly timetables"}
    ],
    "paths": {
        "/timetables/generate": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Generate a weekly timetable",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateTimetableRequest"}}
                ],
                "responses": {
                    "200": {"description": "Solved run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid input", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Infeasible or no solution within budget", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/jobs": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Queue a timetable generation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateTimetableRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/jobs/{id}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get job state",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "queued, running, finished or failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown or expired job"}
                }
            }
        },
        "/timetables/runs/{id}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get a generated run",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown or expired run"}
                }
            }
        },
        "/timetables/runs/{id}/save": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Persist a run as a draft version",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"type": "object", "properties": {"name": {"type": "string"}}}}
                ],
                "responses": {
                    "201": {"description": "Version created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run already saved"},
                    "422": {"description": "Run failed verification"}
                }
            }
        },
        "/timetables/runs/{id}/export": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Render a run and return a signed download link",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "201": {"description": "Export link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/exports/{token}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Download an exported timetable",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "File"},
                    "404": {"description": "Invalid token"},
                    "410": {"description": "Link or file expired"}
                }
            }
        },
        "/timetables/versions": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List saved versions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["DRAFT", "PUBLISHED", "ARCHIVED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Versions", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/versions/{id}": {
            "delete": {
                "tags": ["Timetables"],
                "summary": "Delete a draft version",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Version is not a draft"}
                }
            }
        },
        "/timetables/versions/{id}/entries": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get a version with its entries",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Version detail", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/versions/{id}/publish": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Publish a draft version",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Version is not a draft"}
                }
            }
        }
    },
    "definitions": {
        "GenerateTimetableRequest": {
            "type": "object",
            "required": ["rooms"],
            "properties": {
                "rooms": {"type": "array", "items": {"type": "object"}},
                "staff": {"type": "array", "items": {"type": "object"}},
                "assignments": {"type": "array", "items": {"type": "object"}},
                "courses": {"type": "array", "items": {"type": "object"}},
                "fixed": {"type": "array", "items": {"type": "object"}},
                "options": {
                    "type": "object",
                    "properties": {
                        "policy": {"type": "string", "enum": ["compact", "flexible"]},
                        "engine": {"type": "string", "enum": ["sat", "search"]},
                        "timeBudgetSeconds": {"type": "integer"},
                        "offHoursPenalty": {"type": "integer"},
                        "orderingPenalty": {"type": "integer"},
                        "requireFixed": {"type": "boolean"}
                    }
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
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

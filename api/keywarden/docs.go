// Package keywarden holds the Swagger document served at /swagger/.
// Regenerate with: swag init -g internal/auth/http/router.go -o api/keywarden
package keywarden

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/livez": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health Check Endpoint",
                "responses": {
                    "200": {
                        "description": "status, uptime, version",
                        "schema": {"$ref": "#/definitions/wardensdk.HealthResponse"}
                    }
                }
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness Check Endpoint",
                "responses": {
                    "200": {
                        "description": "status, uptime, version, checks",
                        "schema": {"$ref": "#/definitions/wardensdk.HealthResponse"}
                    },
                    "503": {
                        "description": "service not ready",
                        "schema": {"$ref": "#/definitions/wardensdk.HealthResponse"}
                    }
                }
            }
        },
        "/v1/oauth2/revoke": {
            "post": {
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "OAuth2 Token Revocation Endpoint",
                "parameters": [
                    {
                        "type": "string",
                        "description": "The token to revoke",
                        "name": "token",
                        "in": "formData",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "token revoked (or was never valid)"},
                    "400": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "503": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    }
                }
            }
        },
        "/v1/oauth2/token": {
            "post": {
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "OAuth2 Token Endpoint",
                "parameters": [
                    {
                        "enum": ["client_credentials", "refresh_token"],
                        "type": "string",
                        "description": "Grant type",
                        "name": "grant_type",
                        "in": "formData",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Client identifier (required for client_credentials)",
                        "name": "client_id",
                        "in": "formData"
                    },
                    {
                        "type": "string",
                        "description": "Client secret (required for client_credentials)",
                        "name": "client_secret",
                        "in": "formData"
                    },
                    {
                        "type": "string",
                        "description": "Refresh token (required for refresh_token grant)",
                        "name": "refresh_token",
                        "in": "formData"
                    },
                    {
                        "type": "string",
                        "description": "Space-delimited list of scopes",
                        "name": "scope",
                        "in": "formData"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "access_token, refresh_token, token_type, expires_in, scope",
                        "schema": {"$ref": "#/definitions/wardensdk.TokenResponse"}
                    },
                    "400": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "401": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "403": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "429": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "503": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    }
                }
            }
        },
        "/v1/oauth2/verify": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Access Token Verification Endpoint",
                "responses": {
                    "200": {
                        "description": "client_id, scopes, role, expires_at",
                        "schema": {"$ref": "#/definitions/wardensdk.VerifyResponse"}
                    },
                    "401": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "503": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    }
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Access Token Verification Endpoint",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Scopes the token must carry",
                        "name": "scope",
                        "in": "formData"
                    },
                    {
                        "type": "string",
                        "description": "Role the token must carry",
                        "name": "role",
                        "in": "formData"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "client_id, scopes, role, expires_at",
                        "schema": {"$ref": "#/definitions/wardensdk.VerifyResponse"}
                    },
                    "401": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    },
                    "503": {
                        "description": "error, error_description",
                        "schema": {"$ref": "#/definitions/wardensdk.ErrorResponse"}
                    }
                }
            }
        }
    },
    "definitions": {
        "wardensdk.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        },
        "wardensdk.HealthResponse": {
            "type": "object",
            "properties": {
                "checks": {"$ref": "#/definitions/wardensdk.HealthChecks"},
                "status": {"type": "string"},
                "uptime": {"type": "string"},
                "version": {"type": "string"}
            }
        },
        "wardensdk.HealthChecks": {
            "type": "object",
            "properties": {
                "database": {"type": "string"}
            }
        },
        "wardensdk.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "expires_in": {"type": "integer"},
                "refresh_token": {"type": "string"},
                "scope": {"type": "string"},
                "token_type": {"type": "string"}
            }
        },
        "wardensdk.VerifyResponse": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"},
                "expires_at": {"type": "integer"},
                "role": {"type": "string"},
                "scopes": {
                    "type": "array",
                    "items": {"type": "string"}
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "KeyWarden Credential Service API",
	Description:      "OAuth2 client-credentials service for machine-to-machine authentication: signed access tokens, one-time refresh rotation with reuse detection, and token revocation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/procedure"
)

const errorSchemaName = "Error"

// BuildOpenAPI describes the procedures as an OpenAPI 3 document
func BuildOpenAPI(version, cookieName string, procs []procedure.Procedure) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "Invoicer API",
			Version: version,
		},
		Paths:      openapi3.NewPaths(),
		Components: &openapi3.Components{Schemas: openapi3.Schemas{}},
	}
	doc.Components.SecuritySchemes = openapi3.SecuritySchemes{
		"session": &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type: "apiKey", In: "cookie", Name: cookieName,
		}},
		"apiKey": &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type: "apiKey", In: "header", Name: auth.APIKeyHeader,
		}},
		"bearer": &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
	}

	errorRef, err := openapi3gen.NewSchemaRefForValue(httputil.ErrorResponse{}, doc.Components.Schemas)
	if err != nil {
		return nil, fmt.Errorf("error schema: %w", err)
	}
	doc.Components.Schemas[errorSchemaName] = errorRef

	for _, p := range procs {
		meta := p.Meta()
		op, err := operationFor(meta, doc.Components.Schemas)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %w", meta.Name, err)
		}

		item := &openapi3.PathItem{Post: op}
		if meta.Kind != procedure.KindMutation {
			get := *op
			get.OperationID = op.OperationID + "Get"
			get.RequestBody = nil
			get.Parameters = append(openapi3.Parameters{
				&openapi3.ParameterRef{Value: openapi3.NewQueryParameter("input").
					WithDescription("JSON-encoded input").
					WithSchema(openapi3.NewStringSchema())},
			}, op.Parameters...)
			item.Get = &get
		}
		doc.Paths.Set(procedurePath(meta.Name), item)
	}

	return doc, nil
}

func procedurePath(name string) string {
	return RPCPrefix + "/" + strings.Replace(name, ".", "/", 1)
}

func operationFor(meta procedure.Meta, schemas openapi3.Schemas) (*openapi3.Operation, error) {
	errorRef := openapi3.NewSchemaRef("#/components/schemas/"+errorSchemaName, schemas[errorSchemaName].Value)

	op := openapi3.NewOperation()
	op.OperationID = meta.Name
	op.Summary = meta.Summary
	op.Tags = []string{strings.SplitN(meta.Name, ".", 2)[0]}
	op.Extensions = map[string]interface{}{"x-access": string(meta.Access)}
	if meta.Permission != "" {
		op.Extensions["x-permission"] = meta.Permission
	}

	inputRef, err := openapi3gen.NewSchemaRefForValue(meta.InputSchema, schemas)
	if err != nil {
		return nil, err
	}
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithJSONSchemaRef(inputRef)}

	op.AddParameter(openapi3.NewHeaderParameter(procedure.HeaderDemoMode).
		WithDescription(`"true" serves the demo organization without a session`).
		WithSchema(openapi3.NewStringSchema()))

	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("procedure result")}),
		openapi3.WithName("default", openapi3.NewResponse().WithDescription("error").WithJSONSchemaRef(errorRef)),
	)
	addError := func(status int, desc string) {
		op.AddResponse(status, openapi3.NewResponse().WithDescription(desc).WithJSONSchemaRef(errorRef))
	}
	addError(http.StatusBadRequest, "invalid input")
	addError(http.StatusTooManyRequests, "rate limited")

	if meta.Access == procedure.AccessPublic {
		return op, nil
	}

	op.Security = openapi3.NewSecurityRequirements().
		With(openapi3.NewSecurityRequirement().Authenticate("session")).
		With(openapi3.NewSecurityRequirement().Authenticate("apiKey")).
		With(openapi3.NewSecurityRequirement().Authenticate("bearer"))
	addError(http.StatusUnauthorized, "no valid session")

	if meta.Access == procedure.AccessProtected {
		return op, nil
	}

	op.AddParameter(openapi3.NewHeaderParameter(procedure.HeaderOrganizationSlug).
		WithDescription("organization slug; wins over the id header").
		WithSchema(openapi3.NewStringSchema()))
	op.AddParameter(openapi3.NewHeaderParameter(procedure.HeaderOrganizationID).
		WithDescription("organization id").
		WithSchema(openapi3.NewStringSchema()))
	addError(http.StatusForbidden, "not a member, or role or permission missing")
	addError(http.StatusNotFound, "target not found")

	return op, nil
}

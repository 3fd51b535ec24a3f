package rest

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Issue struct {
	Title   string    `json:"title" validate:"required"`
	Body    string    `json:"body,omitempty"`
	Labels  []string  `json:"labels"`
	Created time.Time `json:"created_at"`
	Parent  *Issue    `json:"parent,omitempty"`
	secret  string
}

func TestSwagger(t *testing.T) {
	base := Interface("Base").Method(
		GET("Ping", "/ping"),
	).MustBuild()
	issues := Interface("Issues").Extends(base).Method(
		GET("Get", "/repos/{owner}/issues/{number}").
			Param(Arg[context.Context]("ctx"), Arg[string]("owner"), Arg[int]("num").Alias("number"), Arg[string]("token").Header("Authorization")).
			Returns(ShapeValue, reflect.TypeFor[Issue]()),
		GET("Get", "/repos/{owner}/issues/{number}").
			Param(Arg[string]("owner"), Arg[int]("number")).
			Returns(ShapeWrapped, reflect.TypeFor[Issue]()),
		POST("Create", "/repos/{owner}/issues").
			Param(Arg[string]("owner"), Arg[Issue]("issue").Body(), Arg[bool]("notify")),
		GET("Find", "").
			TypeParam("T", Any).
			ReturnsOpen(ShapeValue, "T"),
	).MustBuild()

	doc := Swagger("Issues API", issues)
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Equal(t, "Issues API", doc["info"].(map[string]interface{})["title"])

	paths := doc["paths"].(map[string]interface{})
	assert.Len(t, paths, 4)
	assert.Contains(t, paths, "/ping")
	assert.Contains(t, paths, "/")

	get := paths["/repos/{owner}/issues/{number}"].(map[string]interface{})["get"].(map[string]interface{})
	assert.Equal(t, "Issues_Get", get["operationId"])
	params := get["parameters"].([]map[string]interface{})
	require.Len(t, params, 3, "the first overload wins")
	assert.Equal(t, "owner", params[0]["name"])
	assert.Equal(t, "path", params[0]["in"])
	assert.Equal(t, true, params[0]["required"])
	assert.Equal(t, "number", params[1]["name"])
	assert.Equal(t, map[string]interface{}{"type": "integer"}, params[1]["schema"])
	assert.Equal(t, "Authorization", params[2]["name"])
	assert.Equal(t, "header", params[2]["in"])

	resp := get["responses"].(map[string]interface{})["200"].(map[string]interface{})
	schema := resp["content"].(map[string]interface{})["application/json"].(map[string]interface{})["schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"title"}, schema["required"])
	props := schema["properties"].(map[string]interface{})
	assert.Len(t, props, 5)
	assert.Equal(t, map[string]interface{}{"type": "string", "format": "date-time"}, props["created_at"])
	assert.Equal(t, "array", props["labels"].(map[string]interface{})["type"])
	assert.Equal(t, map[string]interface{}{"type": "object"}, props["parent"])

	create := paths["/repos/{owner}/issues"].(map[string]interface{})["post"].(map[string]interface{})
	assert.Contains(t, create, "requestBody")
	cparams := create["parameters"].([]map[string]interface{})
	require.Len(t, cparams, 2)
	assert.Equal(t, "notify", cparams[1]["name"])
	assert.Equal(t, "query", cparams[1]["in"])
	_, hasContent := create["responses"].(map[string]interface{})["200"].(map[string]interface{})["content"]
	assert.False(t, hasContent)

	find := paths["/"].(map[string]interface{})["get"].(map[string]interface{})
	findResp := find["responses"].(map[string]interface{})["200"].(map[string]interface{})
	findSchema := findResp["content"].(map[string]interface{})["application/json"].(map[string]interface{})["schema"]
	assert.Equal(t, map[string]interface{}{"description": "type parameter T"}, findSchema)
}

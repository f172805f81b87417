package handler

import (
	"encoding/json"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/pkg/response"
)

func TestProjectHandler_DataStatus(t *testing.T) {
	s := setupStack(t, 2)

	env := s.do(t, "GET", "/api/v1/projects/status", nil)
	assert.Equal(t, response.CodeParamError, env.Code, "target_url is required")

	s.projects.TouchProject(&model.Project{
		TargetURL:    "https://example.com",
		LastSnapshot: "20200601000000",
	})

	env = s.do(t, "GET", "/api/v1/projects/status?target_url=example.com", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var status struct {
		TargetURL string          `json:"target_url"`
		Project   json.RawMessage `json:"project"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "https://example.com", status.TargetURL)
	assert.NotEmpty(t, status.Project)
}

func TestProjectHandler_Recent(t *testing.T) {
	s := setupStack(t, 2)

	s.projects.TouchProject(&model.Project{TargetURL: "https://a.example.com"})
	s.projects.TouchProject(&model.Project{TargetURL: "https://b.example.com"})

	env := s.do(t, "GET", "/api/v1/projects/recent", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var projects []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &projects))
	assert.Len(t, projects, 2)
}

func TestProjectHandler_Delete(t *testing.T) {
	s := setupStack(t, 2)

	env := s.do(t, "DELETE", "/api/v1/projects", gin.H{})
	assert.Equal(t, response.CodeParamError, env.Code, "target_url is required")

	env = s.do(t, "DELETE", "/api/v1/projects",
		gin.H{"target_url": "nosuch.example.org", "purge_related": true})
	assert.Equal(t, response.CodeResourceNotFound, env.Code)

	s.projects.TouchProject(&model.Project{TargetURL: "https://example.com"})
	env = s.do(t, "DELETE", "/api/v1/projects",
		gin.H{"target_url": "example.com", "purge_related": true})
	require.Equal(t, response.CodeSuccess, env.Code)
	var result struct {
		Projects int64 `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, int64(1), result.Projects)
}

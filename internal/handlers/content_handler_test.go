package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/services"
)

func TestGetHierarchy(t *testing.T) {
	manager := newStubManager()
	manager.content = &stubContentService{
		hierarchyFn: func(context.Context) (*contentapi.Hierarchy, error) {
			return &contentapi.Hierarchy{
				Years: []contentapi.YearNode{{ID: "y1", Name: "Year 1"}},
			}, nil
		},
	}
	router := newTestRouter(t, manager)

	rec := perform(router, http.MethodGet, "/api/v1/content/hierarchy", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var tree contentapi.Hierarchy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	require.Len(t, tree.Years, 1)
	assert.Equal(t, "Year 1", tree.Years[0].Name)
}

func TestGetHierarchyUnavailable(t *testing.T) {
	manager := newStubManager()
	manager.content = &stubContentService{
		hierarchyFn: func(context.Context) (*contentapi.Hierarchy, error) {
			return nil, fmt.Errorf("hierarchy fetch: %w", contentapi.ErrUseCache)
		},
	}
	router := newTestRouter(t, manager)

	rec := perform(router, http.MethodGet, "/api/v1/content/hierarchy", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNavigateTriggersPrefetch(t *testing.T) {
	contentStub := &stubContentService{}
	manager := newStubManager()
	manager.content = contentStub
	router := newTestRouter(t, manager)

	rec := perform(router, http.MethodPost, "/api/v1/content/navigate",
		services.NavigateRequest{Level: "subject", ID: "s1"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, contentStub.navigated, 1)
	assert.Equal(t, "subject", contentStub.navigated[0].Level)
	assert.Equal(t, "s1", contentStub.navigated[0].ID)
}

func TestNavigateRejectsUnknownLevel(t *testing.T) {
	contentStub := &stubContentService{}
	manager := newStubManager()
	manager.content = contentStub
	router := newTestRouter(t, manager)

	rec := perform(router, http.MethodPost, "/api/v1/content/navigate",
		gin.H{"level": "chapter", "id": "c1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, contentStub.navigated)
}

func TestTouchAccepted(t *testing.T) {
	contentStub := &stubContentService{}
	manager := newStubManager()
	manager.content = contentStub
	router := newTestRouter(t, manager)

	rec := perform(router, http.MethodPost, "/api/v1/content/touch",
		services.TouchRequest{Target: "lec-3"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, contentStub.touched, 1)
	assert.Equal(t, "lec-3", contentStub.touched[0].Target)
}

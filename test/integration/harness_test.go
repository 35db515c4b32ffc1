package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/stepwise/internal/observability"
)

func TestHarness_Startup(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/health")
	h.AssertStatus(t, resp, http.StatusOK)

	if h.Registry.Len() != 2 {
		t.Errorf("definitions = %d, want 2", h.Registry.Len())
	}
}

func TestHarness_ReadyWithRedisStore(t *testing.T) {
	h := NewTestHarness(t, WithRedisStore())

	resp := h.GET("/ready")
	h.AssertStatus(t, resp, http.StatusOK)

	var body observability.ReadinessResponse
	h.ParseJSON(resp, &body)
	if body.Checks["workflow_store"].Status != "ok" {
		t.Errorf("workflow_store = %+v", body.Checks["workflow_store"])
	}
}

func TestHarness_NotReadyWhenRedisDown(t *testing.T) {
	h := NewTestHarness(t, WithRedisStore())
	h.Redis.Close()

	resp := h.GET("/ready")
	h.AssertStatus(t, resp, http.StatusServiceUnavailable)
}

func TestHarness_DefinitionsEndpoint(t *testing.T) {
	h := NewTestHarness(t, WithBuiltinCatalog())

	t.Run("list", func(t *testing.T) {
		resp := h.GET("/definitions")
		h.AssertStatus(t, resp, http.StatusOK)

		var list []map[string]any
		h.ParseJSON(resp, &list)
		if len(list) != h.Registry.Len() {
			t.Errorf("listed = %d, want %d", len(list), h.Registry.Len())
		}
		if resp.Header.Get("X-Definitions-Checksum") != h.Registry.Checksum() {
			t.Error("checksum header does not match the registry")
		}
	})

	t.Run("get", func(t *testing.T) {
		resp := h.GET("/definitions/demo")
		h.AssertStatus(t, resp, http.StatusOK)

		var def map[string]any
		h.ParseJSON(resp, &def)
		if def["name"] != "demo" {
			t.Errorf("name = %v", def["name"])
		}
	})

	t.Run("unknown", func(t *testing.T) {
		resp := h.GET("/definitions/nope")
		h.AssertStatus(t, resp, http.StatusNotFound)
	})
}

func TestHarness_MetricsReflectEngineActivity(t *testing.T) {
	h := NewTestHarness(t)
	startDemo(t, h, "u-1")

	resp := h.GET("/metrics")
	h.AssertStatus(t, resp, http.StatusOK)
	body := string(h.ReadBody(resp))

	for _, want := range []string{
		`stepwise_workflow_starts_total{workflow="demo"} 1`,
		"stepwise_definitions_loaded 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

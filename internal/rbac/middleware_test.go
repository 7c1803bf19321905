package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"whatsapp-calling/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(userID, role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireUser(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs("u", RoleAdmin, RoleSalesManager); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AgentDeniedReports(t *testing.T) {
	if code := serveAs("u", RoleAgent, RoleSalesManager); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serveAs("u", "network_operator", "network_operator"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireUser(t *testing.T) {
	if code := serveAs("", RoleAgent, RoleAgent); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

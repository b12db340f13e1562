package ws

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"ppe_realtime/internal/auth"
	"ppe_realtime/internal/realtime"
)

func TestCanJoin(t *testing.T) {
	admin := &auth.Claims{UserID: "a1", Role: auth.RoleAdmin}
	manager := &auth.Claims{UserID: "m1", Role: auth.RoleManager, DepartmentID: "d1"}
	employee := &auth.Claims{UserID: "u1", Role: auth.RoleEmployee, DepartmentID: "d1"}

	tests := []struct {
		name   string
		claims *auth.Claims
		room   realtime.Room
		want   bool
	}{
		{"admin joins admin", admin, realtime.AdminRoom(), true},
		{"admin joins any department", admin, realtime.ManagerRoom("d9"), true},
		{"admin joins any user", admin, realtime.UserRoom("u9"), true},
		{"manager joins own department", manager, realtime.ManagerRoom("d1"), true},
		{"manager refused other department", manager, realtime.ManagerRoom("d2"), false},
		{"manager refused admin", manager, realtime.AdminRoom(), false},
		{"manager joins own user room", manager, realtime.UserRoom("m1"), true},
		{"employee joins own room", employee, realtime.UserRoom("u1"), true},
		{"employee refused other user", employee, realtime.UserRoom("u2"), false},
		{"employee refused department", employee, realtime.ManagerRoom("d1"), false},
		{"employee refused admin", employee, realtime.AdminRoom(), false},
		{"no claims", nil, realtime.UserRoom("u1"), false},
		{"room without key", admin, realtime.ManagerRoom(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanJoin(tt.claims, tt.room); got != tt.want {
				t.Errorf("CanJoin(%s) = %v, want %v", tt.room.Name(), got, tt.want)
			}
		})
	}
}

func TestTargetRooms(t *testing.T) {
	tests := []struct {
		name string
		dept string
		user string
		want []string
	}{
		{"admin only", "", "", []string{"admin"}},
		{"department", "d1", "", []string{"admin", "manager:d1"}},
		{"user", "", "u1", []string{"admin", "user:u1"}},
		{"both", "d1", "u1", []string{"admin", "manager:d1", "user:u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetRooms(tt.dept, tt.user); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TargetRooms() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNamedRoom(t *testing.T) {
	tests := []struct {
		room string
		want bool
	}{
		{"admin", true},
		{"manager:d1", true},
		{"user:u1", true},
		{"1", false},
		{"administrators", false},
	}

	for _, tt := range tests {
		if got := isNamedRoom(tt.room); got != tt.want {
			t.Errorf("isNamedRoom(%q) = %v, want %v", tt.room, got, tt.want)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://hr.example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://hr.example.com", true},
		{"HTTPS://HR.EXAMPLE.COM", true},
		{"https://evil.example.com", false},
		{"", true},
	}

	for _, tt := range tests {
		req := httptestRequest(tt.origin)
		if got := check(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}

	if !originChecker(nil)(httptestRequest("https://anything.example.com")) {
		t.Error("Expected any origin to be allowed when none are configured")
	}
}

func httptestRequest(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/socket.io/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestOwnRooms(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		want   []string
	}{
		{"nil claims", nil, nil},
		{"employee", &auth.Claims{UserID: "u1", Role: auth.RoleEmployee, DepartmentID: "d1"}, []string{"user:u1"}},
		{"manager", &auth.Claims{UserID: "m1", Role: auth.RoleManager, DepartmentID: "d1"}, []string{"manager:d1", "user:m1"}},
		{"manager without department", &auth.Claims{UserID: "m1", Role: auth.RoleManager}, []string{"user:m1"}},
		{"service without user", &auth.Claims{Role: auth.RoleService}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OwnRooms(tt.claims); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("OwnRooms() = %v, want %v", got, tt.want)
			}
		})
	}
}

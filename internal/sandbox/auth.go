package sandbox

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	devCredentialPrefix = "dev:"
	contextStudentKey   = "student"
)

// Claims are the access-token claims, shaped like the portal's tokens.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// IssueToken signs an access token for s valid for ttl.
func (srv *Server) IssueToken(s Student, ttl time.Duration) (string, error) {
	now := srv.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Email: s.Email,
		Name:  s.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(srv.secret)
	if err != nil {
		return "", fmt.Errorf("sandbox: sign token: %w", err)
	}
	return signed, nil
}

// requireStudent rejects requests without a valid bearer token for a known
// student, answering 401 with an "error" body like the portal does.
func (srv *Server) requireStudent(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		header := ctx.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return unauthorized(ctx, "Authorization header missing")
		}
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[1] == "" {
			return unauthorized(ctx, "Token missing")
		}
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return srv.secret, nil
		}, jwt.WithTimeFunc(srv.now), jwt.WithExpirationRequired())
		if err != nil {
			srv.logger.Printf("sandbox: rejected token: %v", err)
			return unauthorized(ctx, "Invalid or expired token")
		}
		if claims.Subject == "" {
			return unauthorized(ctx, "Invalid token payload")
		}
		student, ok := srv.data.StudentBySub(claims.Subject)
		if !ok {
			return unauthorized(ctx, "User not found or not a student")
		}
		ctx.Set(contextStudentKey, student)
		return next(ctx)
	}
}

func currentStudent(ctx echo.Context) Student {
	s, _ := ctx.Get(contextStudentKey).(Student)
	return s
}

func unauthorized(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusUnauthorized, errorResponse{Error: message})
}

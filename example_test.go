package goIdentity_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store/memory"
)

// ExampleNew builds an Engine on in-memory stores, registers a user and
// rotates its refresh token.
func ExampleNew() {
	ctx := context.Background()
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	catalog := memory.NewCatalog()
	_ = catalog.CreateRole(ctx, &rbac.Role{ID: "r-user", Name: "user", Level: 1})

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("example-secret-0123456789abcdef-0123456789")
	cfg.Audit.Enabled = false
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewUsers()).
		WithCatalog(catalog).
		WithAssignments(memory.NewAssignments()).
		Build()
	if err != nil {
		fmt.Println("build:", err)
		return
	}
	defer engine.Close()

	res, err := engine.Register(ctx, goIdentity.RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "Correct-horse-9",
	})
	if err != nil {
		fmt.Println("register:", err)
		return
	}
	fmt.Println("roles:", res.Login.Roles)

	pair, err := engine.Refresh(ctx, res.Login.RefreshToken)
	if err != nil {
		fmt.Println("refresh:", err)
		return
	}
	fmt.Println("rotated:", pair.SessionID != res.Login.SessionID)

	_, err = engine.Refresh(ctx, res.Login.RefreshToken)
	fmt.Println("replay detected:", errors.Is(err, goIdentity.ErrRefreshReplay))
	// Output:
	// roles: [user]
	// rotated: true
	// replay detected: true
}

// ExampleEngine_ValidateAccess shows the snapshot carried by an access
// token.
func ExampleEngine_ValidateAccess() {
	var engine *goIdentity.Engine
	res, err := engine.ValidateAccess(context.Background(), "token")
	if err != nil {
		fmt.Println(errors.Is(err, goIdentity.ErrEngineNotReady))
		return
	}
	fmt.Println(res.UserID, res.Roles, res.Level)
	// Output: true
}

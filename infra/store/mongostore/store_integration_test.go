//go:build integration

package mongostore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/store/storetest"
	"github.com/aquamarket/dispatch/test/util"
)

func TestMongoStoreConformance(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	uri, cleanup, err := util.StartMongo(ctx)
	if err != nil {
		t.Skipf("mongo container unavailable: %v", err)
	}
	defer cleanup()

	n := 0
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		n++
		s, err := Connect(ctx, Config{URI: uri, Database: fmt.Sprintf("dispatch_%d", n)}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}

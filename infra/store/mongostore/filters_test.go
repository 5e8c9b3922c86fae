package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
)

func TestEligibleFilterDate(t *testing.T) {
	f := eligibleFilter("2026-10-19", store.DefaultExcludedStatuses)
	assert.Equal(t, true, f["forDispatch"])
	assert.Equal(t, bson.M{"$nin": store.DefaultExcludedStatuses}, f["status"])
	or, ok := f["$or"].(bson.A)
	require.True(t, ok)
	assert.Len(t, or, 3)
	assert.Contains(t, or, bson.M{"date": "2026-10-19"})
}

func TestEligibleFilterAnyDay(t *testing.T) {
	f := eligibleFilter("", nil)
	_, hasOr := f["$or"]
	_, hasStatus := f["status"]
	assert.False(t, hasOr)
	assert.False(t, hasStatus)
}

func TestStaleFilter(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	f := staleFilter(at)
	assert.Equal(t, bson.M{"$lt": at}, f["createdAt"])
	assert.Equal(t, bson.M{"$in": bson.A{nil, ""}}, f["courierId"])
}

func TestAssignmentUpdate(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	u := assignmentUpdate(model.Assignment{CourierID: "c1", Status: model.OrderAssigned, AssignedAt: at})
	assert.Equal(t, bson.M{"status": model.OrderAssigned, "courierId": "c1", "assignedAt": at}, u["$set"])
	assert.Equal(t, bson.M{"version": 1}, u["$inc"])
	_, hasUnset := u["$unset"]
	assert.False(t, hasUnset)

	u = assignmentUpdate(model.Assignment{Status: model.OrderAwaiting})
	assert.Equal(t, bson.M{"status": model.OrderAwaiting}, u["$set"])
	assert.Equal(t, bson.M{"courierId": "", "assignedAt": ""}, u["$unset"])
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "aquamarket", c.Database)
	assert.Equal(t, 10, c.ConnectTimeout)
	assert.Error(t, c.Validate())
	c.URI = "mongodb://localhost:27017"
	assert.NoError(t, c.Validate())
}

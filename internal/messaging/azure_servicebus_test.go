package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/models"
)

func TestNewAwardMessage(t *testing.T) {
	award := models.PointAward{
		ClaimID:    uuid.New(),
		IdentityID: "alice",
		ItemID:     "cap-gold",
		MintNumber: 7,
		PointValue: 100,
		ClaimedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	msg, err := newAwardMessage(award)
	require.NoError(t, err)
	require.NotNil(t, msg.MessageID)
	assert.Equal(t, award.ClaimID.String(), *msg.MessageID)
	assert.Equal(t, contentTypeJSON, *msg.ContentType)
	assert.Equal(t, "cap-gold", msg.ApplicationProperties["item_id"])

	var decoded models.PointAward
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, award, decoded)
}

func TestNewAwardPublisher_WithoutConnectionString(t *testing.T) {
	p, err := NewAwardPublisher(config.AzureConfig{})
	require.NoError(t, err)
	assert.IsType(t, LogPublisher{}, p)
	assert.NoError(t, p.PublishAward(context.Background(), models.PointAward{ItemID: "cap-gold"}))
	assert.NoError(t, p.Close())
}

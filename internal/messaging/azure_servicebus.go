package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/models"
)

const contentTypeJSON = "application/json"

// AwardPublisher hands point awards to the loyalty service
type AwardPublisher interface {
	PublishAward(ctx context.Context, award models.PointAward) error
	Close() error
}

// serviceBusPublisher sends awards to an Azure Service Bus queue
type serviceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewAwardPublisher creates a Service Bus publisher. Without a connection
// string it returns a publisher that only logs awards.
func NewAwardPublisher(cfg config.AzureConfig) (AwardPublisher, error) {
	if cfg.QueueConnStr == "" {
		log.Warn().Msg("Service Bus connection string is empty, point awards will only be logged")
		return LogPublisher{}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.AwardQueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusPublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.AwardQueueName,
	}, nil
}

// PublishAward sends one award. The message id is the claim id so the
// queue's duplicate detection and the consumer can drop redeliveries.
func (p *serviceBusPublisher) PublishAward(ctx context.Context, award models.PointAward) error {
	msg, err := newAwardMessage(award)
	if err != nil {
		return err
	}
	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send award to %s", p.queueName)
	}
	return nil
}

// Close closes the Service Bus sender and client
func (p *serviceBusPublisher) Close() error {
	if p.sender != nil {
		if err := p.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

func newAwardMessage(award models.PointAward) (*azservicebus.Message, error) {
	data, err := json.Marshal(award)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal award")
	}

	messageID := award.ClaimID.String()
	contentType := contentTypeJSON
	subject := "point_award"
	return &azservicebus.Message{
		Body:        data,
		MessageID:   &messageID,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"source":      "rewards",
			"item_id":     award.ItemID,
			"identity_id": award.IdentityID,
			"time":        time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// LogPublisher writes awards to the log instead of a queue
type LogPublisher struct{}

// PublishAward logs the award
func (LogPublisher) PublishAward(_ context.Context, award models.PointAward) error {
	log.Info().
		Str("claim_id", award.ClaimID.String()).
		Str("identity_id", award.IdentityID).
		Str("item_id", award.ItemID).
		Int("mint_number", award.MintNumber).
		Int("point_value", award.PointValue).
		Msg("Point award")
	return nil
}

// Close is a no-op
func (LogPublisher) Close() error { return nil }

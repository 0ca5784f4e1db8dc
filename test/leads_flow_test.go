package test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/chandankrroy/erino-backend/core/client"
)

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping docker-backed integration suite in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) TestHealth() {
	c := client.NewWithURL("http://" + serviceAddr)
	var raw []byte
	status, err := c.RawGet("/health", &raw)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Contains(string(raw), "ok")
}

func (s *IntegrationTestSuite) TestLeadLifecycleWithNotifications() {
	c := client.NewWithURL("http://" + serviceAddr)

	session := struct {
		Token string `json:"token"`
	}{}
	status, err := c.RawPost("/auth/register", map[string]string{
		"email":    "integration@example.com",
		"password": "secret",
	}, &session)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)
	s.Require().NotEmpty(session.Token)
	c = c.WithToken(session.Token)

	lead := map[string]interface{}{}
	status, err = c.RawPost("/leads", map[string]interface{}{
		"first_name": "End",
		"last_name":  "ToEnd",
		"email":      "end.to.end@acme.com",
		"status":     "contacted",
		"score":      42,
	}, &lead)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)
	leadID := int64(lead["id"].(float64))

	path := fmt.Sprintf("/leads/%d", leadID)
	_, err = c.RawPut(path, map[string]interface{}{
		"first_name":   "End",
		"last_name":    "ToEnd",
		"email":        "end.to.end@acme.com",
		"status":       "qualified",
		"is_qualified": true,
	}, nil)
	s.Require().NoError(err)

	_, err = c.RawDelete(path, nil)
	s.Require().NoError(err)

	// the three operations must have been published to kafka in order
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       notificationTopic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	expectedKeys := []string{"lead.create", "lead.update", "lead.delete"}
	for _, expectedKey := range expectedKeys {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		message, err := reader.ReadMessage(ctx)
		cancel()
		s.Require().NoError(err)
		s.Equal(expectedKey, string(message.Key))

		payload := map[string]interface{}{}
		s.Require().NoError(json.Unmarshal(message.Value, &payload))
		s.Equal(float64(leadID), payload["id"])
	}
}

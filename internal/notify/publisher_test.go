package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
)

func TestNoOp(t *testing.T) {
	var p Publisher = NoOp{}
	require.NoError(t, p.SeatBooked(context.Background(), &model.Participant{ID: "c1:1"}))
	require.NoError(t, p.SeatCancelled(context.Background(), "c1:1"))
	require.NoError(t, p.Close())
}

func TestNewKafka_RequiresBrokers(t *testing.T) {
	_, err := NewKafka(context.Background(), KafkaConfig{Topic: "seats"}, zap.NewNop())
	require.Error(t, err)
}

package fulfillment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
)

// captureCompleted is the processor status required before delivery; any
// other capture state rejects the order even if the processor call itself
// succeeded.
const captureCompleted = "COMPLETED"

// Service composes payment verification with delivery: the verify-and-fulfill
// operation the approval callback drives.
type Service struct {
	engine  *Engine
	ledger  order.Ledger
	adapter payment.Adapter
}

func NewService(engine *Engine, ledger order.Ledger, adapter payment.Adapter) *Service {
	return &Service{engine: engine, ledger: ledger, adapter: adapter}
}

// VerifyAndFulfill captures funds for an externally approved processor order
// and, when the settlement is verifiably complete and sufficient, delivers
// the goods. The processor's own success flag is never enough on its own:
// the amount and currency are compared against the ledger inside Fulfill.
func (s *Service) VerifyAndFulfill(ctx context.Context, externalOrderID string) (*Result, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "fulfillment"))

	verification, err := s.adapter.Verify(ctx, externalOrderID)
	if err != nil {
		logger.Error("payment_verification_failed",
			zap.String("external_order_id", externalOrderID), zap.Error(err))
		return nil, err
	}

	if verification.Status != captureCompleted {
		logger.Warn("capture_not_completed",
			zap.String("order_id", verification.OrderID),
			zap.String("status", verification.Status),
		)
		if recordErr := s.ledger.RecordStatus(ctx, verification.OrderID, order.StatusRejected, verification.Evidence); recordErr != nil {
			return nil, fmt.Errorf("fulfillment: record rejection: %w", recordErr)
		}
		return nil, fmt.Errorf("%w: capture status %s", payment.ErrVerify, verification.Status)
	}

	return s.engine.Fulfill(ctx, verification.OrderID, verification.Amount, verification.Currency, verification.Evidence)
}

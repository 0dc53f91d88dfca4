package ledger

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// Catalog заводит товары (stock) и счета (balance).
type Catalog struct {
	tx           domain.TxManager
	aggregates   domain.AggregateRepository
	reaggregator *Reaggregator
	logger       *log.Entry
}

// NewCatalog создаёт Catalog.
func NewCatalog(tx domain.TxManager, aggregates domain.AggregateRepository, reaggregator *Reaggregator, logger *log.Entry) *Catalog {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Catalog{tx: tx, aggregates: aggregates, reaggregator: reaggregator, logger: logger}
}

// CreateProduct создаёт товар и, если openingStock > 0, записывает начальный приход.
func (c *Catalog) CreateProduct(ctx context.Context, productID string, openingStock int64) (domain.Aggregate, error) {
	if openingStock < 0 {
		return domain.Aggregate{}, domain.ErrNegativeStock
	}
	return c.create(ctx, domain.AggregateKindStock, productID, openingStock, "opening stock")
}

// CreateAccount создаёт счёт пользователя с начальным балансом.
func (c *Catalog) CreateAccount(ctx context.Context, accountID string, openingBalance int64) (domain.Aggregate, error) {
	return c.create(ctx, domain.AggregateKindBalance, accountID, openingBalance, "opening balance")
}

func (c *Catalog) create(ctx context.Context, kind domain.AggregateKind, id string, opening int64, reason string) (domain.Aggregate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Aggregate{}, domain.ErrAggregateIDRequired
	}

	var result domain.Aggregate
	err := c.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := c.aggregates.Create(txCtx, domain.Aggregate{Kind: kind, ID: id}); err != nil {
			return err
		}
		if opening == 0 {
			var err error
			result, err = c.aggregates.Get(txCtx, kind, id)
			return err
		}
		var err error
		result, err = c.reaggregator.ApplyDelta(txCtx, kind, id, opening, reason)
		return err
	})
	if err != nil {
		return domain.Aggregate{}, err
	}

	c.logger.WithFields(log.Fields{
		"aggregate": result.Key(),
		"value":     result.CurrentValue,
	}).Info("aggregate created")
	return result, nil
}

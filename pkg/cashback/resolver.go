package cashback

import (
	"context"
	"sort"
)

// Selection is the resolver verdict for a candidate purchase. Promotion is nil
// when no active promotion qualifies and the caller should fall back to the
// company base rate.
type Selection struct {
	Promotion     *Promotion
	CashbackCents AmountCents
}

// PromotionResolver picks the single best-applicable promotion for a purchase.
type PromotionResolver struct {
	catalog PromotionCatalog
}

// NewPromotionResolver wires a resolver over a catalog.
func NewPromotionResolver(catalog PromotionCatalog) *PromotionResolver {
	return &PromotionResolver{catalog: catalog}
}

// Resolve filters the company's active promotions down to those the purchase
// qualifies for, scores each by its potential cashback, and returns the winner
// ordered by (priority desc, potential desc, id asc).
func (resolver *PromotionResolver) Resolve(ctx context.Context, companyID CompanyID, customerID CustomerID, purchase PurchaseAmount, atUnixUTC int64) (Selection, error) {
	promotions, err := resolver.catalog.ListActivePromotions(ctx, companyID, atUnixUTC)
	if err != nil {
		return Selection{}, err
	}

	type candidate struct {
		promotion Promotion
		potential AmountCents
	}
	candidates := make([]candidate, 0, len(promotions))
	for _, promotion := range promotions {
		if promotion.Type != PromotionTypeCashback {
			continue
		}
		if !promotion.ActiveAt(atUnixUTC) {
			continue
		}
		if promotion.MinPurchaseCents > 0 && purchase.Decimal().Cmp(promotion.MinPurchaseCents.Decimal()) < 0 {
			continue
		}
		if promotion.MaxTotalUses > 0 && promotion.CurrentTotalUses >= promotion.MaxTotalUses {
			continue
		}
		if promotion.MaxUsesPerCustomer > 0 {
			used, err := resolver.catalog.CountPromotionUses(ctx, promotion.ID, customerID)
			if err != nil {
				return Selection{}, err
			}
			if used >= promotion.MaxUsesPerCustomer {
				continue
			}
		}
		candidates = append(candidates, candidate{
			promotion: promotion,
			potential: ComputeCashback(purchase, promotion.Config),
		})
	}

	if len(candidates) == 0 {
		return Selection{}, nil
	}

	sort.Slice(candidates, func(left, right int) bool {
		if candidates[left].promotion.Priority != candidates[right].promotion.Priority {
			return candidates[left].promotion.Priority > candidates[right].promotion.Priority
		}
		if candidates[left].potential != candidates[right].potential {
			return candidates[left].potential > candidates[right].potential
		}
		return candidates[left].promotion.ID.String() < candidates[right].promotion.ID.String()
	})

	winner := candidates[0]
	return Selection{Promotion: &winner.promotion, CashbackCents: winner.potential}, nil
}

package memory

import (
	"maps"

	"rentloop-be/internal/invoice"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
)

func cloneProduct(p *product.Product) *product.Product {
	c := *p
	c.Variants = make([]*product.Variant, 0, len(p.Variants))
	for _, v := range p.Variants {
		vc := *v
		c.Variants = append(c.Variants, &vc)
	}
	c.Pricing.Rates = make(map[pricing.DurationType]int64, len(p.Pricing.Rates))
	maps.Copy(c.Pricing.Rates, p.Pricing.Rates)
	return &c
}

func cloneQuotation(q *quotation.Quotation) *quotation.Quotation {
	c := *q
	c.Lines = append([]quotation.Line(nil), q.Lines...)
	if q.ConfirmedOrderID != nil {
		id := *q.ConfirmedOrderID
		c.ConfirmedOrderID = &id
	}
	return &c
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Lines = append([]order.OrderLine(nil), o.Lines...)
	c.History = append([]order.StatusEntry(nil), o.History...)
	if o.ActualReturn != nil {
		t := *o.ActualReturn
		c.ActualReturn = &t
	}
	return &c
}

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.Lines = append([]invoice.Line(nil), inv.Lines...)
	return &c
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	return &c
}

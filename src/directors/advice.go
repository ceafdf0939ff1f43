package directors

import (
	"context"

	"dictstore/src/models"
)

// DataAdvice lets cross-cutting concerns observe item operations without
// the data service depending on them. Attachment binding and audit
// trails hook in here. A before hook returning an error aborts the
// operation; after hooks run once the backend write succeeded.
type DataAdvice interface {
	BeforeCreate(ctx context.Context, dict *models.Dict, item *models.DictItem) error
	AfterCreate(ctx context.Context, dict *models.Dict, item *models.DictItem) error
	BeforeUpdate(ctx context.Context, dict *models.Dict, prior, next *models.DictItem) error
	AfterUpdate(ctx context.Context, dict *models.Dict, item *models.DictItem) error
	BeforeDelete(ctx context.Context, dict *models.Dict, itemID string) error
	AfterDelete(ctx context.Context, dict *models.Dict, itemID string) error
	AfterGet(ctx context.Context, dict *models.Dict, item *models.DictItem) error
}

// NoopAdvice is the embeddable do-nothing base; hooks override what
// they care about.
type NoopAdvice struct{}

func (NoopAdvice) BeforeCreate(context.Context, *models.Dict, *models.DictItem) error { return nil }
func (NoopAdvice) AfterCreate(context.Context, *models.Dict, *models.DictItem) error  { return nil }
func (NoopAdvice) BeforeUpdate(context.Context, *models.Dict, *models.DictItem, *models.DictItem) error {
	return nil
}
func (NoopAdvice) AfterUpdate(context.Context, *models.Dict, *models.DictItem) error { return nil }
func (NoopAdvice) BeforeDelete(context.Context, *models.Dict, string) error          { return nil }
func (NoopAdvice) AfterDelete(context.Context, *models.Dict, string) error           { return nil }
func (NoopAdvice) AfterGet(context.Context, *models.Dict, *models.DictItem) error    { return nil }

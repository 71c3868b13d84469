package access

import (
	"fmt"

	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Features gates engine actions on kill switches stored in the data
// store, so a disable survives snapshots and restores with the rest of
// the state.
type Features struct {
	ds *store.DataStore
}

func NewFeatures(ds *store.DataStore) *Features {
	return &Features{ds: ds}
}

func (f *Features) IsEnabled(feature string) bool {
	return !f.ds.GetBool(store.FeatureDisabledKey(feature))
}

func (f *Features) Disable(feature string) {
	f.ds.SetBool(store.FeatureDisabledKey(feature), true)
}

func (f *Features) Enable(feature string) {
	f.ds.SetBool(store.FeatureDisabledKey(feature), false)
}

// Feature names are scoped per action and order type so a single order
// type can be halted without pausing the venue.
func CreateOrderFeature(orderType string) string {
	return fmt.Sprintf("createOrder:%s", orderType)
}

func UpdateOrderFeature(orderType string) string {
	return fmt.Sprintf("updateOrder:%s", orderType)
}

func CancelOrderFeature(orderType string) string {
	return fmt.Sprintf("cancelOrder:%s", orderType)
}

func ExecuteOrderFeature(orderType string) string {
	return fmt.Sprintf("executeOrder:%s", orderType)
}

const ClaimFundingFeature = "claimFunding"

package model

// Citizen is the directory record for a ration card holder.  ID is the
// smart-card number.
type Citizen struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	ShopCode    string      `json:"shopCode"`
	District    string      `json:"district"`
	CardType    string      `json:"cardType"`
	Entitlement Entitlement `json:"entitlement,omitempty"`
}

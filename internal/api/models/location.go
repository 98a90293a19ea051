package models

// CreateLocationRequest is the body of POST /v1/locations. The coordinates
// are pointers so a missing value is told apart from 0.
type CreateLocationRequest struct {
	Name string   `json:"name" validate:"required,max=200"`
	Lat  *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon  *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

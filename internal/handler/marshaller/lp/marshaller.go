package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
	wsmarshaller "github.com/webitel/im-coalescer-service/internal/handler/marshaller/ws"
)

// Response defines the top-level JSON array to support update batching.
type Response struct {
	Updates []*wsmarshaller.WSUpdate `json:"updates"`
}

// MarshallUpdates converts the updates collected during one poll into a
// single JSON batch, oldest first.
func MarshallUpdates(updates []*model.DispatchedUpdate) ([]byte, error) {
	res := Response{
		Updates: make([]*wsmarshaller.WSUpdate, 0, len(updates)),
	}
	for _, u := range updates {
		res.Updates = append(res.Updates, wsmarshaller.NewWSUpdate(u))
	}
	return json.Marshal(res)
}

package webhook

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
)

// platformEnvelope is the legacy SOAP push format some notification topics
// still arrive on.
type platformEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Notification struct {
			EventName     string `xml:"NotificationEventName"`
			CorrelationID string `xml:"CorrelationID"`
			RecipientID   string `xml:"RecipientUserID"`
			Timestamp     string `xml:"Timestamp"`
			Item          struct {
				ItemID   string `xml:"ItemID"`
				Title    string `xml:"Title"`
				SKU      string `xml:"SKU"`
				Quantity int    `xml:"Quantity"`
				Price    struct {
					Value string `xml:",chardata"`
				} `xml:"CurrentPrice"`
				Location string `xml:"Location"`
			} `xml:"Item"`
			Transaction struct {
				TransactionID string `xml:"TransactionID"`
				Quantity      int    `xml:"QuantityPurchased"`
				Price         struct {
					Value string `xml:",chardata"`
				} `xml:"TransactionPrice"`
				Fee struct {
					Value string `xml:",chardata"`
				} `xml:"FinalValueFee"`
				Status string `xml:"Status"`
			} `xml:"Transaction"`
		} `xml:"Notification"`
	} `xml:"Body"`
}

var platformTopics = map[string]eventdomain.Topic{
	"ItemListed":              eventdomain.TopicItemListed,
	"ItemRevised":             eventdomain.TopicItemRevised,
	"ItemClosed":              eventdomain.TopicItemEnded,
	"ItemUnsold":              eventdomain.TopicItemEnded,
	"ItemSold":                eventdomain.TopicItemSold,
	"AuctionCheckoutComplete": eventdomain.TopicItemSold,
	"FixedPriceTransaction":   eventdomain.TopicItemSold,
	"ItemOutOfStock":          eventdomain.TopicItemOutOfStock,
}

// ParseXML normalizes one platform (SOAP) delivery.
func ParseXML(body []byte) (Notification, error) {
	var env platformEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := env.Body.Notification

	topic, ok := platformTopics[n.EventName]
	if !ok {
		return Notification{}, fmt.Errorf("%w: %q", ErrUnknownTopic, n.EventName)
	}
	userID, err := parseUserID(n.RecipientID)
	if err != nil {
		return Notification{}, err
	}

	payload := eventdomain.Payload{
		ListingID: n.Item.ItemID,
		Title:     n.Item.Title,
		SKU:       n.Item.SKU,
		Quantity:  n.Item.Quantity,
		Location:  n.Item.Location,
	}
	if v, err := amountCents(n.Item.Price.Value); err == nil {
		payload.PriceCents = v
	}
	if ts, err := time.Parse(time.RFC3339, n.Timestamp); err == nil {
		payload.OccurredAt = ts
	}

	if topic == eventdomain.TopicItemSold {
		payload.OrderID = n.Transaction.TransactionID
		payload.OrderState = strings.ToLower(n.Transaction.Status)
		if n.Transaction.Quantity > 0 {
			payload.Quantity = n.Transaction.Quantity
		}
		if v, err := amountCents(n.Transaction.Price.Value); err == nil && v > 0 {
			payload.PriceCents = v
		}
		if v, err := amountCents(n.Transaction.Fee.Value); err == nil {
			payload.FeeCents = v
		}
		if payload.OrderID == "" {
			return Notification{}, fmt.Errorf("%w: sold notification without transaction id", ErrMalformed)
		}
	}
	if payload.ListingID == "" {
		return Notification{}, fmt.Errorf("%w: notification without item id", ErrMalformed)
	}

	return Notification{
		UserID:     userID,
		Topic:      topic,
		ExternalID: n.CorrelationID,
		Payload:    payload,
	}, nil
}

// amountCents converts a decimal money string like "12.30" to cents.
func amountCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

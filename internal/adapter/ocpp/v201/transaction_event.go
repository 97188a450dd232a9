package v201

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

// decodeTransactionEvent reads only the members the ledger needs. Each member
// is decoded on its own; one with an unexpected JSON type is skipped and
// reported instead of discarding the event.
func decodeTransactionEvent(chargerID string, payload json.RawMessage) (domain.TransactionEvent, []string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return domain.TransactionEvent{}, nil, err
	}

	d := &lenientDecoder{}
	var eventType, timestamp string
	d.value("eventType", top["eventType"], &eventType)
	d.value("timestamp", top["timestamp"], &timestamp)

	ev := domain.TransactionEvent{
		ChargerID: chargerID,
		EventType: domain.TransactionEventType(eventType),
		Timestamp: parseTimestamp(timestamp),
		Data:      d.transactionDetails("transactionData", top["transactionData"]),
		Info:      d.transactionDetails("transactionInfo", top["transactionInfo"]),
	}

	for i, raw := range d.array("meterValue", top["meterValue"]) {
		path := fmt.Sprintf("meterValue[%d]", i)
		fields := d.object(path, raw)
		if fields == nil {
			continue
		}
		sample := domain.MeterSample{}
		for j, rawValue := range d.array(path+".sampledValue", fields["sampledValue"]) {
			if m, ok := d.measurement(fmt.Sprintf("%s.sampledValue[%d]", path, j), rawValue, "measurand"); ok {
				sample.SampledValues = append(sample.SampledValues, m)
			}
		}
		ev.MeterValues = append(ev.MeterValues, sample)
	}

	return ev, d.skipped, nil
}

type lenientDecoder struct {
	skipped []string
}

func (d *lenientDecoder) transactionDetails(path string, raw json.RawMessage) *domain.TransactionDetails {
	fields := d.object(path, raw)
	if fields == nil {
		return nil
	}

	var id TransactionID
	d.value(path+".transactionId", fields["transactionId"], &id)
	details := &domain.TransactionDetails{TransactionID: string(id)}

	var cost Numeric
	if d.value(path+".totalCost", fields["totalCost"], &cost) {
		details.TotalCost = float64(cost)
	}

	for i, rawPeriod := range d.array(path+".chargingPeriods", fields["chargingPeriods"]) {
		periodPath := fmt.Sprintf("%s.chargingPeriods[%d]", path, i)
		pf := d.object(periodPath, rawPeriod)
		if pf == nil {
			continue
		}
		period := domain.ChargingPeriod{}
		for j, rawDim := range d.array(periodPath+".dimensions", pf["dimensions"]) {
			if m, ok := d.measurement(fmt.Sprintf("%s.dimensions[%d]", periodPath, j), rawDim, "name"); ok {
				period.Dimensions = append(period.Dimensions, m)
			}
		}
		details.ChargingPeriods = append(details.ChargingPeriods, period)
	}
	return details
}

// measurement reads a {<nameKey>, value} object. Entries without a usable
// value are dropped.
func (d *lenientDecoder) measurement(path string, raw json.RawMessage, nameKey string) (domain.Measurement, bool) {
	fields := d.object(path, raw)
	if fields == nil {
		return domain.Measurement{}, false
	}
	var name string
	var value Numeric
	d.value(path+"."+nameKey, fields[nameKey], &name)
	if !d.value(path+".value", fields["value"], &value) {
		return domain.Measurement{}, false
	}
	return domain.Measurement{Name: name, Value: float64(value)}, true
}

func (d *lenientDecoder) object(path string, raw json.RawMessage) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if !d.value(path, raw, &m) {
		return nil
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m
}

func (d *lenientDecoder) array(path string, raw json.RawMessage) []json.RawMessage {
	var a []json.RawMessage
	d.value(path, raw, &a)
	return a
}

// value decodes raw into v. Absent and null members report false without
// being recorded as skipped.
func (d *lenientDecoder) value(path string, raw json.RawMessage, v interface{}) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		d.skipped = append(d.skipped, path)
		return false
	}
	return true
}

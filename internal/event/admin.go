package event

// Instantiated is emitted once when the ledger is configured.
type Instantiated struct {
	Admin    string `json:"admin_address"`
	Operator string `json:"operator_address"`
	Token    string `json:"token"`
}

func (e *Instantiated) EventType() EventType { return EventTypeInstantiated }
func (e *Instantiated) Epoch() uint64        { return 0 }

// TreasuryClaimed is emitted when the admin withdraws accrued fees.
type TreasuryClaimed struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

func (e *TreasuryClaimed) EventType() EventType { return EventTypeTreasuryClaimed }
func (e *TreasuryClaimed) Epoch() uint64        { return 0 }

type Paused struct {
	CurrentEpoch uint64 `json:"current_epoch"`
}

func (e *Paused) EventType() EventType { return EventTypePaused }
func (e *Paused) Epoch() uint64        { return 0 }

type Unpaused struct {
	CurrentEpoch uint64 `json:"current_epoch"`
}

func (e *Unpaused) EventType() EventType { return EventTypeUnpaused }
func (e *Unpaused) Epoch() uint64        { return 0 }

// ConfigUpdated is emitted by every admin setter, one per changed field.
type ConfigUpdated struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (e *ConfigUpdated) EventType() EventType { return EventTypeConfigUpdated }
func (e *ConfigUpdated) Epoch() uint64        { return 0 }

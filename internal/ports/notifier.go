package ports

import "github.com/alejandrodnm/polyhedge/internal/domain"

// Notifier presenta el estado de los mercados al operador.
type Notifier interface {
	// NotifySnapshots muestra una fila por mercado registrado.
	NotifySnapshots(snaps []domain.Snapshot, available, reserved float64, degraded bool)
}

package repository

import (
	"cmp"
	"slices"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
)

func sortEvents(events []model.Event) {
	slices.SortFunc(events, func(a, b model.Event) int {
		return cmp.Or(
			cmp.Compare(a.Date, b.Date),
			cmp.Compare(a.StartTime, b.StartTime),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

func sortCars(cars []model.Car) {
	slices.SortFunc(cars, func(a, b model.Car) int {
		return cmp.Or(
			cmp.Compare(a.DepartTime, b.DepartTime),
			cmp.Compare(a.DriverName, b.DriverName),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

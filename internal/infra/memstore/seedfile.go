package memstore

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/Spok95/shipment-recon/internal/domain/orders"
)

// Seed — начальные данные для хранилища в памяти: позиции, коробы с единицами,
// единицы вне коробов, ручной остаток и заказы. Позиции везде указываются по SKU.
type Seed struct {
	Variants []struct {
		SKU  string
		Name string
	}
	Cases []struct {
		Code  string
		SKU   string
		Units int64
		Codes []string
	}
	Units []struct {
		Code string
		SKU  string
	}
	Stock []struct {
		Warehouse int64
		SKU       string
		Qty       int64
	}
	Orders []struct {
		From   int64
		To     int64
		Status string
		Lines  []struct {
			SKU string
			Qty int64
		}
	}
}

// LoadSeedFile читает сид из YAML/JSON файла и заводит данные в стор.
func (s *Store) LoadSeedFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	return s.Load(seed)
}

// Load заводит сид. Неизвестный SKU или повтор кода — ошибка, стор при этом
// может остаться заполненным частично.
func (s *Store) Load(seed Seed) error {
	skus := map[string]int64{}
	for _, v := range seed.Variants {
		if _, dup := skus[v.SKU]; dup || v.SKU == "" {
			return fmt.Errorf("seed: bad or duplicate sku %q", v.SKU)
		}
		skus[v.SKU] = s.AddVariant(v.SKU, v.Name).ID
	}
	variant := func(sku string) (int64, error) {
		id, ok := skus[sku]
		if !ok {
			return 0, fmt.Errorf("seed: unknown sku %q", sku)
		}
		return id, nil
	}
	seen := map[string]bool{}
	fresh := func(code string) error {
		if code == "" || seen[code] {
			return fmt.Errorf("seed: empty or duplicate code %q", code)
		}
		seen[code] = true
		return nil
	}

	for _, c := range seed.Cases {
		vid, err := variant(c.SKU)
		if err != nil {
			return err
		}
		if err := fresh(c.Code); err != nil {
			return err
		}
		if c.Units <= 0 {
			return fmt.Errorf("seed: case %s has no units", c.Code)
		}
		s.AddMaster(c.Code, c.Units, vid)
		for _, u := range c.Codes {
			if err := fresh(u); err != nil {
				return err
			}
			s.AddUnique(u, vid, c.Code)
		}
	}
	for _, u := range seed.Units {
		vid, err := variant(u.SKU)
		if err != nil {
			return err
		}
		if err := fresh(u.Code); err != nil {
			return err
		}
		s.AddUnique(u.Code, vid, "")
	}
	for _, st := range seed.Stock {
		vid, err := variant(st.SKU)
		if err != nil {
			return err
		}
		if _, err := s.Receive(context.Background(), 0, st.Warehouse, vid, st.Qty, "seed"); err != nil {
			return fmt.Errorf("seed stock %s: %w", st.SKU, err)
		}
	}
	for _, o := range seed.Orders {
		order := orders.Order{FromID: o.From, ToID: o.To, Status: orders.Status(o.Status)}
		for _, l := range o.Lines {
			vid, err := variant(l.SKU)
			if err != nil {
				return err
			}
			order.Lines = append(order.Lines, orders.Line{VariantID: vid, Qty: l.Qty})
		}
		s.AddOrder(order)
	}
	return nil
}

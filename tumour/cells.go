package tumour

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/methdemon/components"
	"github.com/pthm-cable/methdemon/genotype"
)

// cellStore owns the ECS world holding every live cell.
type cellStore struct {
	world *ecs.World

	mapper *ecs.Map3[
		components.Placement,
		components.Lineage,
		components.Methylation,
	]
	filter *ecs.Filter1[components.Placement]

	placementMap   *ecs.Map[components.Placement]
	lineageMap     *ecs.Map[components.Lineage]
	methylationMap *ecs.Map[components.Methylation]

	nextCellID uint64
}

func newCellStore() *cellStore {
	world := ecs.NewWorld()
	return &cellStore{
		world: world,
		mapper: ecs.NewMap3[
			components.Placement,
			components.Lineage,
			components.Methylation,
		](world),
		filter:         ecs.NewFilter1[components.Placement](world),
		placementMap:   ecs.NewMap[components.Placement](world),
		lineageMap:     ecs.NewMap[components.Lineage](world),
		methylationMap: ecs.NewMap[components.Methylation](world),
	}
}

// spawn creates a cell. loci is owned by the new cell afterwards.
func (s *cellStore) spawn(deme, slot int, g genotype.ID, loci []uint8, at float64) ecs.Entity {
	place := components.Placement{Deme: deme, Slot: slot}
	lin := components.Lineage{CellID: s.nextCellID, Genotype: g, BornAt: at}
	meth := components.Methylation{Loci: loci}
	s.nextCellID++
	return s.mapper.NewEntity(&place, &lin, &meth)
}

func (s *cellStore) destroy(e ecs.Entity) {
	s.world.RemoveEntity(e)
}

func (s *cellStore) alive(e ecs.Entity) bool {
	return s.world.Alive(e)
}

func (s *cellStore) place(e ecs.Entity, deme, slot int) {
	p := s.placementMap.Get(e)
	p.Deme = deme
	p.Slot = slot
}

func (s *cellStore) placement(e ecs.Entity) components.Placement {
	return *s.placementMap.Get(e)
}

func (s *cellStore) lineage(e ecs.Entity) components.Lineage {
	return *s.lineageMap.Get(e)
}

func (s *cellStore) genotypeOf(e ecs.Entity) genotype.ID {
	return s.lineageMap.Get(e).Genotype
}

func (s *cellStore) setGenotype(e ecs.Entity, g genotype.ID) {
	s.lineageMap.Get(e).Genotype = g
}

// loci returns the cell's array without copying.
func (s *cellStore) loci(e ecs.Entity) []uint8 {
	return s.methylationMap.Get(e).Loci
}

// count walks the world and returns the number of live cells.
func (s *cellStore) count() int {
	n := 0
	query := s.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

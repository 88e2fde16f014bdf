package nsr

import (
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/stopsync/pkg/core"
)

const netexDoc = `<?xml version="1.0" encoding="UTF-8"?>
<PublicationDelivery xmlns="http://www.netex.org.uk/netex" version="1.0">
 <dataObjects>
  <SiteFrame id="NSR:SiteFrame:1" version="1">
   <stopPlaces>
    <StopPlace id="NSR:StopPlace:100" version="7">
     <keyList>
      <KeyValue><Key>imported-name</Key><Value>Old Terminal</Value></KeyValue>
      <KeyValue><Key>nsr-comment</Key><Value>Moved &amp;lt;2019</Value></KeyValue>
     </keyList>
     <Name>Oslo  bussterminal </Name>
     <Centroid><Location><Longitude>10.7580</Longitude><Latitude>59.9116</Latitude></Location></Centroid>
     <TopographicPlaceRef ref="KVE:TopographicPlace:0301" version="1"/>
     <TransportMode>bus</TransportMode>
     <BusSubmode>regionalBus</BusSubmode>
     <StopPlaceType>busStation</StopPlaceType>
     <quays>
      <Quay id="NSR:Quay:1001" version="3">
       <Centroid><Location><Longitude>10.7581</Longitude><Latitude>59.9117</Latitude></Location></Centroid>
       <PublicCode>A</PublicCode>
      </Quay>
      <Quay id="NSR:Quay:1002" version="4">
       <Centroid><Location><Longitude>10.7582</Longitude><Latitude>59.9118</Latitude></Location></Centroid>
       <PrivateCode>17</PrivateCode>
      </Quay>
     </quays>
    </StopPlace>
    <StopPlace id="NSR:StopPlace:200" version="2">
     <Name>Storgata</Name>
     <Centroid><Location><Longitude>5.3</Longitude><Latitude>60.3</Latitude></Location></Centroid>
     <TopographicPlaceRef ref="KVE:TopographicPlace:4601" version="1"/>
     <TransportMode>bus</TransportMode>
     <StopPlaceType>onstreetBus</StopPlaceType>
     <quays>
      <Quay id="NSR:Quay:2001" version="1">
       <Centroid><Location><Longitude>5.3001</Longitude><Latitude>60.3001</Latitude></Location></Centroid>
       <PublicCode>1</PublicCode>
      </Quay>
      <Quay id="NSR:Quay:2002" version="1">
       <PublicCode>2</PublicCode>
      </Quay>
     </quays>
    </StopPlace>
    <StopPlace id="NSR:StopPlace:300" version="1">
     <Name>Single</Name>
     <Centroid><Location><Longitude>8.0</Longitude><Latitude>58.0</Latitude></Location></Centroid>
     <TopographicPlaceRef ref="KVE:TopographicPlace:4204" version="1"/>
     <StopPlaceType>busStation</StopPlaceType>
     <quays>
      <Quay id="NSR:Quay:3001" version="1">
       <Centroid><Location><Longitude>8.0</Longitude><Latitude>58.0</Latitude></Location></Centroid>
      </Quay>
     </quays>
    </StopPlace>
    <StopPlace id="NSR:StopPlace:400" version="1">
     <Name>Replacement</Name>
     <Centroid><Location><Longitude>9</Longitude><Latitude>59</Latitude></Location></Centroid>
     <TopographicPlaceRef ref="KVE:TopographicPlace:3001" version="1"/>
     <TransportMode>bus</TransportMode>
     <BusSubmode>railReplacementBus</BusSubmode>
     <StopPlaceType>onstreetBus</StopPlaceType>
    </StopPlace>
    <StopPlace id="NSR:StopPlace:500" version="1">
     <Name>Haparanda</Name>
     <Centroid><Location><Longitude>24.1</Longitude><Latitude>65.8</Latitude></Location></Centroid>
     <TopographicPlaceRef ref="LAN:TopographicPlace:2514" version="1"/>
     <StopPlaceType>onstreetBus</StopPlaceType>
    </StopPlace>
    <StopPlace id="NSR:StopPlace:600" version="1">
     <Name>Ferjekai</Name>
     <TopographicPlaceRef ref="KVE:TopographicPlace:1103" version="1"/>
     <StopPlaceType>ferryStop</StopPlaceType>
    </StopPlace>
   </stopPlaces>
  </SiteFrame>
 </dataObjects>
</PublicationDelivery>`

func TestLoadNeTEx(t *testing.T) {
	res, err := LoadNeTEx(strings.NewReader(netexDoc), nil)
	require.NoError(t, err)
	s := res.Store

	assert.Equal(t, 2, s.Len(Station), "stations: 100 and 300")
	assert.Equal(t, 3, s.Len(Quay), "quays: 1001, 1002, 2001")

	station, ok := s.Get(Station, "100")
	require.True(t, ok)
	assert.Equal(t, "Oslo bussterminal", station.Name)
	assert.Equal(t, orb.Point{10.7580, 59.9116}, station.Location)
	assert.Equal(t, "0301", station.Municipality)
	assert.Equal(t, "7", station.Version)
	assert.Equal(t, "regionalBus", station.Submode)
	assert.Equal(t, "[Old Terminal] Moved <2019", station.Note)

	signed, ok := s.Get(Quay, "1001")
	require.True(t, ok)
	assert.Equal(t, "A", signed.Name)
	assert.Equal(t, "Oslo bussterminal (A)", signed.OfficialName)
	assert.Equal(t, "A", signed.Ref)
	assert.Equal(t, "100", signed.Station)
	assert.Equal(t, "busStation", signed.StopType)
	assert.Empty(t, signed.Submode, "station quays carry no submode")

	unsigned, ok := s.Get(Quay, "1002")
	require.True(t, ok)
	assert.Empty(t, unsigned.Name)
	assert.Equal(t, "Oslo bussterminal", unsigned.OfficialName)
	assert.Equal(t, "17", unsigned.UnsignedRef)

	street, ok := s.Get(Quay, "2001")
	require.True(t, ok)
	assert.Equal(t, "Storgata (1)", street.Name)
	assert.Equal(t, "1", street.Ref)
	assert.Equal(t, "4601", street.Municipality)
	assert.Empty(t, street.Station)

	_, ok = s.Get(Quay, "3001")
	assert.False(t, ok, "single quay of a bus station is dropped")
	parent, ok := s.StationOf("3001")
	assert.True(t, ok)
	assert.Equal(t, "300", parent)

	_, ok = s.Get(Quay, "2002")
	assert.False(t, ok, "quay without coordinates is skipped")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, Quay, res.Skipped[0].Kind)
	assert.Equal(t, "2002", res.Skipped[0].ID)

	var shapeErr *DataShapeError
	assert.True(t, errors.As(error(res.Skipped[0]), &shapeErr))
}

func TestLocationPoint(t *testing.T) {
	p, err := locationXML{Longitude: " 10.75 ", Latitude: "59.91"}.point()
	require.NoError(t, err)
	assert.Equal(t, orb.Point{10.75, 59.91}, p)

	_, err = locationXML{Longitude: "10.75", Latitude: "599.1"}.point()
	var ve core.ValidationError
	assert.True(t, errors.As(err, &ve), "out of range latitude")

	_, err = locationXML{Longitude: "", Latitude: "59.91"}.point()
	assert.Error(t, err)
}

func TestLoadNeTExRejectsBrokenXML(t *testing.T) {
	_, err := LoadNeTEx(strings.NewReader("<PublicationDelivery><StopPlace>"), nil)
	assert.Error(t, err)
}

func TestCleanNameNormalises(t *testing.T) {
	decomposed := "Ro\u0308ros  skysstasjon "
	assert.Equal(t, "R\u00f6ros skysstasjon", CleanName(decomposed))
}

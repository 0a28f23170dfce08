package cmr

import (
	"time"

	"gedigo/internal/core/geo"
	"gedigo/internal/core/granule"
)

// GranuleRef is one catalog hit: everything the pipeline needs to decide
// whether and how to fetch a granule. Immutable once returned
type GranuleRef struct {
	ID          string
	Name        string
	Product     granule.Product
	Orbit       string
	SizeMB      float64
	URL         string
	SHA256      string
	TimeStart   time.Time
	TimeEnd     time.Time
	RevisionID  int
	PolygonWKT  string
	BoundingBox string
}

// Query is a catalog search request
type Query struct {
	Product  granule.Product
	Version  string // collection version, e.g. "002"; empty matches any
	Provider string // archive provider id; empty uses the client default
	Region   geo.Region
	Start    time.Time
	End      time.Time
	PageSize int // per page; 0 uses the client default
}

// umm_json response shapes, trimmed to the fields we read

type searchResponse struct {
	Hits  int          `json:"hits"`
	Items []searchItem `json:"items"`
}

type searchItem struct {
	Meta struct {
		ConceptID  string `json:"concept-id"`
		RevisionID int    `json:"revision-id"`
	} `json:"meta"`
	UMM struct {
		GranuleUR    string `json:"GranuleUR"`
		TemporalExtent struct {
			RangeDateTime struct {
				BeginningDateTime time.Time `json:"BeginningDateTime"`
				EndingDateTime    time.Time `json:"EndingDateTime"`
			} `json:"RangeDateTime"`
		} `json:"TemporalExtent"`
		DataGranule struct {
			ArchiveAndDistributionInformation []struct {
				Name     string  `json:"Name"`
				SizeInMB float64 `json:"Size"`
				Checksum struct {
					Value     string `json:"Value"`
					Algorithm string `json:"Algorithm"`
				} `json:"Checksum"`
			} `json:"ArchiveAndDistributionInformation"`
		} `json:"DataGranule"`
		SpatialExtent struct {
			HorizontalSpatialDomain struct {
				Geometry struct {
					GPolygons []struct {
						Boundary struct {
							Points []struct {
								Longitude float64 `json:"Longitude"`
								Latitude  float64 `json:"Latitude"`
							} `json:"Points"`
						} `json:"Boundary"`
					} `json:"GPolygons"`
					BoundingRectangles []struct {
						West  float64 `json:"WestBoundingCoordinate"`
						South float64 `json:"SouthBoundingCoordinate"`
						East  float64 `json:"EastBoundingCoordinate"`
						North float64 `json:"NorthBoundingCoordinate"`
					} `json:"BoundingRectangles"`
				} `json:"Geometry"`
			} `json:"HorizontalSpatialDomain"`
		} `json:"SpatialExtent"`
		RelatedUrls []struct {
			URL  string `json:"URL"`
			Type string `json:"Type"`
		} `json:"RelatedUrls"`
	} `json:"umm"`
}
